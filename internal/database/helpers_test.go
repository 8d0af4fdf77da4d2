package database

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReasonsToArrayFormatsPostgresTextArrayLiteral(t *testing.T) {
	assert.Equal(t, "{}", reasonsToArray(nil))
	assert.Equal(t, `{"a","b"}`, reasonsToArray([]string{"a", "b"}))
}

func TestNullTimeRoundTrip(t *testing.T) {
	assert.Nil(t, nullTimeToTime(sql.NullTime{Valid: false}))

	now := time.Now()
	nt := timeToNullTime(&now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, *nullTimeToTime(nt))

	assert.False(t, timeToNullTime(nil).Valid)
}
