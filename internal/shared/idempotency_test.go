package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "mastertransact_period_processed_uidx"}
	require.True(t, IsUniqueViolation(unique))
	require.True(t, IsUniqueViolation(fmt.Errorf("commit: %w", unique)))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("23505")))
	require.False(t, IsUniqueViolation(nil))
}

func TestIdempotencyStoreRejectsBadInput(t *testing.T) {
	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(context.Background(), "k", "m"))
	require.NoError(t, nilStore.Delete(context.Background(), "k"))

	s := &IdempotencyStore{}
	require.Error(t, s.CheckAndInsert(context.Background(), "", "m"))
	require.Error(t, s.CheckAndInsert(context.Background(), "k", ""))
	require.Error(t, s.Delete(context.Background(), ""))
}
