package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("%w: quantity must be positive", shared.ErrValidation), http.StatusBadRequest, "validation failed: quantity must be positive"},
		{fmt.Errorf("%w: order", shared.ErrNotFound), http.StatusNotFound, "not found: order"},
		{shared.ErrConflict, http.StatusConflict, "conflict"},
		{shared.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{shared.ErrPersistence, http.StatusUnprocessableEntity, "persistence failure"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
		require.Equal(t, tc.detail, problem.Detail)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Quantity int `json:"quantity"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2,"extra":true}`))
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, 2, target.Quantity)
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var (
		got int64
		err error
	)
	r.Get("/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		got, err = IDParam(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/42", nil))
	require.NoError(t, err)
	require.EqualValues(t, 42, got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/-1", nil))
	require.ErrorIs(t, err, shared.ErrValidation)
}
