package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/worthit/pipeline/internal/errors"
)

// apifyActorRunSyncPath is Apify's synchronous actor-run endpoint: it
// runs the actor and returns the dataset items in one call, avoiding the
// run/poll/fetch dance original_source/api/scraper.py does against the
// ApifyClient SDK. The host is whichever mesh instance of "scraper" the
// caller's Do selected, so load-balancing/circuit-breaking across
// registered scraper instances actually changes where the request goes.
const apifyActorRunSyncPath = "/v2/acts/apify~web-scraper/run-sync-get-dataset-items"

// ProductData is the scraped listing payload the worker derives its
// analysis from.
type ProductData struct {
	Title       string        `json:"title"`
	Price       string        `json:"price"`
	Description string        `json:"description"`
	Reviews     []ReviewEntry `json:"reviews"`
	Rating      float64       `json:"rating"`
	ReviewCount int           `json:"review_count"`
	Features    []string      `json:"features"`
	URL         string        `json:"url"`
}

// ReviewEntry is one scraped customer review.
type ReviewEntry struct {
	Review string  `json:"review"`
	Rating float64 `json:"rating"`
}

// Scraper extracts product listings via Apify's Web Scraper actor.
type Scraper struct {
	client *resty.Client
	token  string
}

// NewScraper builds a Scraper bound to an Apify API token, reusing the
// teacher's resty client conventions (timeouts, retry policy) adapted
// from internal/services/rag_client.go.
func NewScraper(token string) *Scraper {
	client := resty.New().
		SetTimeout(90 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)
	return &Scraper{client: client, token: token}
}

// Extract scrapes a product URL via the Apify actor's synchronous
// endpoint on host and returns its normalized dataset item.
func (s *Scraper) Extract(ctx context.Context, url, host string) (*ProductData, error) {
	runInput := map[string]interface{}{
		"startUrls":          []map[string]string{{"url": url}},
		"proxyConfiguration": map[string]bool{"useApifyProxy": true},
	}

	var items []ProductData
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.token).
		SetBody(runInput).
		SetResult(&items).
		Post(fmt.Sprintf("https://%s%s", host, apifyActorRunSyncPath))
	if err != nil {
		return nil, errors.Wrap(err, errors.UpstreamTransient)
	}
	if resp.IsError() {
		return nil, errors.New(errors.UpstreamPermanent, "scraper returned "+resp.Status())
	}
	if len(items) == 0 {
		return nil, errors.New(errors.UpstreamPermanent, "no product data found")
	}

	item := items[0]
	return &item, nil
}

// parsePrice extracts the numeric component of a scraped price string
// (which may carry a currency symbol) for use in value-score math,
// matching original_source/api/ml_processor.py's calculate_value_score.
func parsePrice(price string) float64 {
	var b strings.Builder
	for _, r := range price {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return f
}
