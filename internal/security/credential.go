// Package security implements the CredentialRecord and FraudSignal
// persisted records from SPEC_FULL.md §3: bcrypt-hashed service
// credentials with rotation bookkeeping, and a lightweight fraud
// heuristic over task submission patterns.
//
// Grounded on original_source/api/fraud_detection.py's additive
// risk-score pattern (stack weighted factors, compare against a
// threshold) and on golang.org/x/crypto/bcrypt, already in the
// teacher's ecosystem lineage via the auth package it shipped with.
package security

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/worthit/pipeline/internal/errors"
)

// CredentialRecord is a rotatable, bcrypt-hashed service credential
// (e.g. a webhook secret or an internal service token), as named in
// SPEC_FULL.md §3.
type CredentialRecord struct {
	ID        string
	Label     string
	SecretHash string
	CreatedAt time.Time
	RotatedAt *time.Time
	Active    bool
}

// NewCredential hashes secret with bcrypt's default cost and returns an
// active record.
func NewCredential(id, label, secret string) (*CredentialRecord, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal)
	}
	return &CredentialRecord{
		ID:         id,
		Label:      label,
		SecretHash: string(hash),
		CreatedAt:  time.Now(),
		Active:     true,
	}, nil
}

// Verify reports whether secret matches the stored hash. A verification
// attempt against an inactive credential always fails.
func (c *CredentialRecord) Verify(secret string) bool {
	if !c.Active {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// Rotate replaces the stored hash with a new secret's hash and stamps
// RotatedAt.
func (c *CredentialRecord) Rotate(newSecret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	c.SecretHash = string(hash)
	now := time.Now()
	c.RotatedAt = &now
	return nil
}

// Revoke deactivates the credential; Verify will reject it thereafter.
func (c *CredentialRecord) Revoke() {
	c.Active = false
}
