package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNonBlank(t *testing.T) {
	assert.Equal(t, []string{"order_events"}, nonBlank(" order_events ", "  "))
	assert.Empty(t, nonBlank(""))
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	assert.ErrorIs(t, c.InsertRows(context.Background(), "order_events", nil), errNotInitialized)
	assert.NoError(t, c.Close())
}

func TestDescribeNotFound(t *testing.T) {
	err := describe("table", "order_events", &googleapi.Error{Code: http.StatusNotFound})
	assert.EqualError(t, err, `table "order_events" does not exist`)

	cause := &googleapi.Error{Code: http.StatusForbidden}
	assert.ErrorIs(t, describe("dataset", "storefront", cause), cause)
}

func rowErr(reasons ...string) bigquery.RowInsertionError {
	row := bigquery.RowInsertionError{}
	for _, r := range reasons {
		row.Errors = append(row.Errors, &bigquery.Error{Reason: r})
	}
	return row
}

func TestRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                {nil, false},
		"plain":              {errors.New("boom"), false},
		"http 429":           {&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		"http 503 wrapped":   {fmt.Errorf("insert: %w", &googleapi.Error{Code: http.StatusServiceUnavailable}), true},
		"http 400":           {&googleapi.Error{Code: http.StatusBadRequest}, false},
		"grpc unavailable":   {status.Error(codes.Unavailable, "down"), true},
		"grpc invalid":       {status.Error(codes.InvalidArgument, "bad"), false},
		"row backend":        {bigquery.PutMultiError{rowErr("backendError")}, true},
		"row invalid":        {bigquery.PutMultiError{rowErr("invalid")}, false},
		"stopped by invalid": {bigquery.PutMultiError{rowErr("invalid"), rowErr(reasonStopped)}, false},
		"stopped by backend": {bigquery.PutMultiError{rowErr("backendError"), rowErr(reasonStopped)}, true},
		"only stopped":       {bigquery.PutMultiError{rowErr(reasonStopped)}, false},
		"job error":          {&bigquery.Error{Reason: "rateLimitExceeded"}, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
