package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

func TestTranslateErrorConstraintViolations(t *testing.T) {
	cases := map[string]string{
		"23505": "record already exists",
		"23503": "referenced record does not exist",
		"23514": "value violates a data rule",
		"40001": "concurrent update detected, please retry",
	}
	for code, msg := range cases {
		raw := &pgconn.PgError{Code: code, Message: "secret constraint detail", ConstraintName: "orders_code_key"}
		err := TranslateError(fmt.Errorf("insert order: %w", raw))
		require.ErrorIs(t, err, shared.ErrPersistence, code)
		require.Contains(t, err.Error(), msg)
		require.NotContains(t, err.Error(), "secret constraint detail")

		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr))
		require.Equal(t, code, pgErr.Code)
	}
}

func TestTranslateErrorPassthrough(t *testing.T) {
	plain := errors.New("boom")
	require.Same(t, plain, TranslateError(plain))

	other := &pgconn.PgError{Code: "42P01"}
	require.Equal(t, error(other), TranslateError(other))
}
