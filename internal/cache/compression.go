package cache

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/worthit/pipeline/internal/errors"
)

// compressionMarker prefixes a stored value's bytes when zlib compression
// was applied, so Get can tell compressed and plain bodies apart without
// a separate flag field. Grounded on original_source/api/cache_middleware.py,
// which marks compressed payloads the same way.
const compressionMarker = "compressed:"

// compressionThreshold: bodies larger than this size get compressed
// before storage.
const compressionThreshold = 1024

// maybeCompress zlib-compresses body once it exceeds compressionThreshold,
// but only keeps the compressed form when it's strictly smaller than the
// original; already-dense payloads (e.g. JSON of mostly numbers) can come
// out larger once the marker and zlib framing are added, in which case
// the plain body is stored instead.
func maybeCompress(body []byte) ([]byte, error) {
	if len(body) <= compressionThreshold {
		return body, nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, errors.Wrap(err, errors.Internal)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.Internal)
	}

	compressed := append([]byte(compressionMarker), buf.Bytes()...)
	if len(compressed) >= len(body) {
		return body, nil
	}
	return compressed, nil
}

func maybeDecompress(stored []byte) ([]byte, error) {
	marker := []byte(compressionMarker)
	if len(stored) < len(marker) || !bytes.Equal(stored[:len(marker)], marker) {
		return stored, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(stored[len(marker):]))
	if err != nil {
		return nil, errors.Wrap(err, errors.Integrity)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.Integrity)
	}
	return out, nil
}
