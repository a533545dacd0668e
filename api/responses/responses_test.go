package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    pkgerrors.Code
		message string
		details bool
	}{
		{
			name:    "validation keeps message and details",
			err:     pkgerrors.New(pkgerrors.CodeValidation, "bad input").WithDetails(map[string]string{"field": "quantity"}),
			status:  http.StatusBadRequest,
			code:    pkgerrors.CodeValidation,
			message: "bad input",
			details: true,
		},
		{
			name:    "stock message surfaces",
			err:     pkgerrors.New(pkgerrors.CodeInsufficientStock, "only 2 left in stock"),
			status:  http.StatusConflict,
			code:    pkgerrors.CodeInsufficientStock,
			message: "only 2 left in stock",
		},
		{
			name:    "untyped error stays private",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
		{
			name:    "nil error",
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
		{
			name:   "stock check constraint",
			err:    &pgconn.PgError{Code: "23514", ConstraintName: "product_variants_stock_quantity_check"},
			status: http.StatusConflict,
			code:   pkgerrors.CodeInsufficientStock,
		},
		{
			name:   "deadlock",
			err:    &pgconn.PgError{Code: "40P01"},
			status: http.StatusServiceUnavailable,
			code:   pkgerrors.CodeDependency,
		},
		{
			name:   "unknown sqlstate",
			err:    &pgconn.PgError{Code: "42P01"},
			status: http.StatusInternalServerError,
			code:   pkgerrors.CodeInternal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tc.err)

			require.Equal(t, tc.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, string(tc.code), body.Code)
			if tc.message != "" {
				assert.Equal(t, tc.message, body.Message)
			}
			assert.Equal(t, tc.details, body.Details != nil)
		})
	}
}

func TestWriteErrorLogsServerFailuresWithChain(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "responses-test", Output: &out})

	err := errors.Join(errors.New("reserve stock"), &pgconn.PgError{Code: "42P01", TableName: "product_variants"})
	WriteError(context.Background(), logg, httptest.NewRecorder(), err)
	assert.Contains(t, out.String(), `"message":"request.error"`)
	assert.Contains(t, out.String(), `"pg_table":"product_variants"`)
	assert.Contains(t, out.String(), `"error_chain"`)

	out.Reset()
	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
	assert.Contains(t, out.String(), `"message":"request.rejected"`)
	assert.NotContains(t, out.String(), "stack")
}

func TestServe(t *testing.T) {
	ok := Serve(nil, http.StatusCreated, func(w http.ResponseWriter, _ *http.Request) (any, error) {
		w.Header().Set("X-Seen", "yes")
		return map[string]int{"count": 2}, nil
	})
	w := httptest.NewRecorder()
	ok(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Seen"))
	assert.JSONEq(t, `{"data":{"count":2}}`, w.Body.String())

	failing := Serve(nil, http.StatusOK, func(http.ResponseWriter, *http.Request) (any, error) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not yours")
	})
	w = httptest.NewRecorder()
	failing(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not yours", decodeError(t, w).Message)
}
