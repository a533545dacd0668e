package bigquery

import (
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// insertAll row error reasons worth another attempt.
var retryableReasons = map[string]bool{
	"backendError":      true,
	"internalError":     true,
	"rateLimitExceeded": true,
	"timeout":           true,
}

// reasonStopped marks a valid row rejected because another row in the
// request failed. It says nothing about the row itself.
const reasonStopped = "stopped"

// Retryable reports whether err is transient. A partial insert failure is
// retryable only when every failing row failed for a transient reason.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var put bigquery.PutMultiError
	if errors.As(err, &put) {
		return rowsRetryable(put)
	}
	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) {
		return retryableReasons[bqErr.Reason]
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	switch status.Code(err) {
	case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
		return true
	}
	return false
}

func rowsRetryable(put bigquery.PutMultiError) bool {
	transient := false
	for _, row := range put {
		for _, inner := range row.Errors {
			var bqErr *bigquery.Error
			if !errors.As(inner, &bqErr) {
				return false
			}
			if bqErr.Reason == reasonStopped {
				continue
			}
			if !retryableReasons[bqErr.Reason] {
				return false
			}
			transient = true
		}
	}
	return transient
}
