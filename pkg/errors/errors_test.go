package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataFor(t *testing.T) {
	want := map[Code]Metadata{
		CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", ExposeMessage: true, DetailsAllowed: true},
		CodeUnauthorized:      {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
		CodeNotFound:          {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ExposeMessage: true},
		CodeStateConflict:     {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", ExposeMessage: true, DetailsAllowed: true},
		CodeRateLimit:         {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "rate limit exceeded", ExposeMessage: true},
		CodeInternal:          {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:        {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
		CodeInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", ExposeMessage: true, DetailsAllowed: true},
		CodeEmptyCart:         {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "cart is empty", ExposeMessage: true},
		CodeInvalidState:      {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "operation not allowed in current state", ExposeMessage: true, DetailsAllowed: true},
		"SOMETHING_UNKNOWN":   {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	}
	for code, meta := range want {
		if got := MetadataFor(code); got != meta {
			t.Fatalf("code %s: expected %+v got %+v", code, meta, got)
		}
	}
	for code, meta := range metadataByCode {
		if meta.HTTPStatus < 400 || meta.PublicMessage == "" {
			t.Fatalf("code %s has incomplete metadata %+v", code, meta)
		}
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation || base.Message() != "missing foo" || base.Details() != nil {
		t.Fatalf("unexpected error %+v", base)
	}
	if base.Error() != "VALIDATION_ERROR: missing foo" {
		t.Fatalf("unexpected text %q", base.Error())
	}
	if base.WithDetails(map[string]any{"field": "foo"}).Details() == nil {
		t.Fatal("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) || wrapped.Code() != CodeConflict {
		t.Fatalf("Wrap lost code or cause: %v", wrapped)
	}
	if wrapped.Error() != "CONFLICT: ctx: boom" {
		t.Fatalf("unexpected text %q", wrapped.Error())
	}
	if Wrap(CodeConflict, nil, "ctx").Unwrap() != nil {
		t.Fatal("wrapping nil should have no cause")
	}

	var none *Error
	if none.Code() != CodeInternal || none.Error() != "" || none.WithDetails("x") != nil {
		t.Fatal("nil *Error should be inert")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestAsFindsWrappedTypedError(t *testing.T) {
	inner := New(CodeInsufficientStock, "not enough").WithDetails(map[string]int{"available": 2, "requested": 5})
	outer := fmt.Errorf("add item: %w", inner)

	got := As(outer)
	if got == nil || got.Code() != CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", got)
	}
	if got.Details() == nil {
		t.Fatalf("details lost through wrapping")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection refused"), "load cart")
	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("unexpected code %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
}

func TestDumpReadsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_carts_active_user", TableName: "carts"}
	d := Dump(fmt.Errorf("insert cart: %w", pgErr))
	if d.PGCode != "23505" || d.PGConstraint != "ux_carts_active_user" || d.PGTable != "carts" {
		t.Fatalf("postgres fields missing: %+v", d)
	}
	if d.Code != CodeInternal {
		t.Fatalf("untyped error should dump as internal, got %s", d.Code)
	}

	d = Dump(&pq.Error{Code: "40001", Message: "could not serialize access"})
	if d.PGCode != "40001" || d.PGMessage != "could not serialize access" {
		t.Fatalf("lib/pq fields missing: %+v", d)
	}
}

func TestClassifySQL(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{&pgconn.PgError{Code: "23514", ConstraintName: "products_stock_quantity_check"}, CodeInsufficientStock},
		{&pgconn.PgError{Code: "23505"}, CodeConflict},
		{&pgconn.PgError{Code: "55P03"}, CodeConflict},
		{&pq.Error{Code: "40001"}, CodeDependency},
		{&pgconn.PgError{Code: "08006"}, CodeDependency},
	}
	for _, tt := range tests {
		got := ClassifySQL(tt.err)
		if got == nil || got.Code() != tt.want {
			t.Fatalf("ClassifySQL(%v) = %v, want %s", tt.err, got, tt.want)
		}
		if !stdErrors.Is(got, tt.err) {
			t.Fatalf("classified error lost its cause")
		}
	}
	if ClassifySQL(&pgconn.PgError{Code: "23514", ConstraintName: "orders_total_check"}) != nil {
		t.Fatalf("non-stock check violations stay unclassified")
	}
	if ClassifySQL(stdErrors.New("plain")) != nil {
		t.Fatalf("non-postgres errors stay unclassified")
	}
}

func TestIsCodeWalksNestedErrors(t *testing.T) {
	inner := New(CodeOutOfStock, "sold out")
	outer := Wrap(CodeConflict, fmt.Errorf("reserve: %w", inner), "checkout")
	if !IsCode(outer, CodeOutOfStock) || !IsCode(outer, CodeConflict) {
		t.Fatalf("expected both codes in chain")
	}
	if IsCode(outer, CodeNotFound) {
		t.Fatalf("unexpected code match")
	}
	if CodeOf(stdErrors.New("x")) != CodeInternal || CodeOf(outer) != CodeConflict {
		t.Fatalf("CodeOf mismatch")
	}
	if got := Newf(CodeValidation, "quantity %d too large", 1000).Message(); got != "quantity 1000 too large" {
		t.Fatalf("unexpected Newf message %q", got)
	}
}
