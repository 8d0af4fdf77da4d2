package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

// ArchiveRepository persists completed tasks into the long-retention
// analysis_archive table (SPEC_FULL.md §3), independent of the
// short-TTL Redis status record the queue maintains.
type ArchiveRepository struct {
	db *DB
}

// NewArchiveRepository wraps a connection pool.
func NewArchiveRepository(db *DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Save upserts a completed task's archive row, keyed by task id.
func (r *ArchiveRepository) Save(ctx context.Context, task *models.Task) error {
	var resultJSON []byte
	if task.Result != nil {
		raw, err := json.Marshal(task.Result)
		if err != nil {
			return errors.Wrap(err, errors.Internal)
		}
		resultJSON = raw
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO analysis_archive (task_id, task_type, status, chat_id, result, created_at, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			end_time = EXCLUDED.end_time
	`, task.ID, task.TaskType, task.Status, task.ChatID, resultJSON, task.CreatedAt, timeToNullTime(task.EndTime))
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	return nil
}

// ArchivedTask is a row read back from analysis_archive.
type ArchivedTask struct {
	TaskID    string
	TaskType  models.TaskType
	Status    models.TaskStatus
	ChatID    string
	Result    *models.AnalysisResult
	CreatedAt time.Time
	EndTime   *time.Time
}

// FindByID reads a single archived task, or nil if it was never
// archived.
func (r *ArchiveRepository) FindByID(ctx context.Context, taskID string) (*ArchivedTask, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id, task_type, status, chat_id, result, created_at, end_time
		FROM analysis_archive WHERE task_id = $1
	`, taskID)

	var (
		archived  ArchivedTask
		resultRaw []byte
		endTime   sql.NullTime
	)
	if err := row.Scan(&archived.TaskID, &archived.TaskType, &archived.Status, &archived.ChatID, &resultRaw, &archived.CreatedAt, &endTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Internal)
	}

	archived.EndTime = nullTimeToTime(endTime)

	if len(resultRaw) > 0 {
		var result models.AnalysisResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, errors.Wrap(err, errors.Integrity)
		}
		archived.Result = &result
	}

	return &archived, nil
}
