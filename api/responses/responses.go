// Package responses writes the JSON envelopes every handler returns:
// {"data": ...} on success and {"error": {code, message, details}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err to its public code and status. Untyped postgres
// failures are classified by SQLSTATE; anything else becomes INTERNAL with a
// generic message. logg may be nil.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := resolve(err)
	meta := pkgerrors.MetadataFor(typed.Code())

	body := types.APIError{Code: string(typed.Code()), Message: meta.PublicMessage}
	if meta.ExposeMessage && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	if logg != nil {
		logFailure(ctx, logg, err, typed, meta.HTTPStatus)
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: body})
}

func resolve(err error) *pkgerrors.Error {
	if err == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown error")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if typed := pkgerrors.ClassifySQL(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// the status line is already out; nothing useful left to report
	_ = json.NewEncoder(w).Encode(payload)
}

// logFailure keeps 4xx to one line and gives 5xx the full chain plus any
// postgres diagnostics.
func logFailure(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, status int) {
	fields := map[string]any{"status": status, "error_code": typed.Code()}
	if status < http.StatusInternalServerError {
		logg.Info(logg.WithFields(ctx, fields), "request.rejected")
		return
	}
	if err == nil {
		err = typed
	}
	dump := pkgerrors.Dump(err)
	fields["error_chain"] = dump.Chain
	for key, value := range map[string]string{
		"pg_code":       dump.PGCode,
		"pg_constraint": dump.PGConstraint,
		"pg_table":      dump.PGTable,
		"pg_column":     dump.PGColumn,
		"pg_detail":     dump.PGDetail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if details, ok := typed.Details().(map[string]any); ok && details["step"] != nil {
		fields["step"] = details["step"]
	}
	logg.Error(logg.WithFields(ctx, fields), "request.error", err)
}

// Endpoint is a handler body. It returns the payload to wrap in the success
// envelope or the error to map.
type Endpoint func(w http.ResponseWriter, r *http.Request) (any, error)

// Serve adapts fn to an http.HandlerFunc that answers with status on success.
func Serve(logg *logger.Logger, status int, fn Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fn(w, r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccessStatus(w, status, data)
	}
}
