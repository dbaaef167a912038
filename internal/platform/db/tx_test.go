package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/shared"
)

func TestMapErrorRetryableCodes(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := fmt.Errorf("update invoice: %w", &pgconn.PgError{Code: code, Message: "could not serialize access"})
		mapped := MapError(err)
		require.ErrorIs(t, mapped, shared.ErrTransactionFailure, code)
	}
}

func TestMapErrorPassThrough(t *testing.T) {
	plain := errors.New("boom")
	require.Equal(t, plain, MapError(plain))

	unique := &pgconn.PgError{Code: "23505"}
	require.NotErrorIs(t, MapError(unique), shared.ErrTransactionFailure)
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique)))
	require.False(t, IsForeignKeyViolation(unique))
}
