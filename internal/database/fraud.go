package database

import (
	"context"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/security"
)

// FraudSignalRepository persists security.FraudSignal rows for later
// audit and model training.
type FraudSignalRepository struct {
	db *DB
}

// NewFraudSignalRepository wraps a connection pool.
func NewFraudSignalRepository(db *DB) *FraudSignalRepository {
	return &FraudSignalRepository{db: db}
}

// Save inserts a fraud signal. Signals are append-only: every scoring
// pass for a task gets its own row.
func (r *FraudSignalRepository) Save(ctx context.Context, signal security.FraudSignal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fraud_signals (task_id, score, reasons, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, signal.TaskID, signal.Score, reasonsToArray(signal.Reasons), signal.RecordedAt)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	return nil
}

func reasonsToArray(reasons []string) string {
	if len(reasons) == 0 {
		return "{}"
	}
	out := "{"
	for i, r := range reasons {
		if i > 0 {
			out += ","
		}
		out += `"` + r + `"`
	}
	return out + "}"
}
