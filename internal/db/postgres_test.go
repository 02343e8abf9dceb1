package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate")))
}

func TestUpstreamKeepsBothCauses(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := upstream("count likes", cause)

	assert.ErrorIs(t, err, models.ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "count likes")
	assert.True(t, models.IsRetryable(err))
}
