package database

import (
	"context"
	"database/sql"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/security"
)

// CredentialRepository persists security.CredentialRecord rows.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository wraps a connection pool.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save upserts a credential record keyed by id.
func (r *CredentialRepository) Save(ctx context.Context, cred *security.CredentialRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential_records (id, label, secret_hash, created_at, rotated_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash,
			rotated_at = EXCLUDED.rotated_at,
			active = EXCLUDED.active
	`, cred.ID, cred.Label, cred.SecretHash, cred.CreatedAt, timeToNullTime(cred.RotatedAt), cred.Active)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	return nil
}

// FindByID loads a credential record, or nil if unknown.
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*security.CredentialRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, label, secret_hash, created_at, rotated_at, active
		FROM credential_records WHERE id = $1
	`, id)

	var (
		cred      security.CredentialRecord
		rotatedAt sql.NullTime
	)
	if err := row.Scan(&cred.ID, &cred.Label, &cred.SecretHash, &cred.CreatedAt, &rotatedAt, &cred.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Internal)
	}
	cred.RotatedAt = nullTimeToTime(rotatedAt)
	return &cred, nil
}
