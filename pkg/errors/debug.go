package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain into log fields.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

// pgFacts is what both postgres drivers report about a failed statement.
type pgFacts struct {
	sqlState   string
	constraint string
	table      string
	column     string
	detail     string
	message    string
}

// postgresFacts unwraps a pgx or lib/pq error. gorm's postgres driver uses
// pgx; lib/pq shows up through goose.
func postgresFacts(err error) (pgFacts, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgFacts{
			sqlState:   pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			column:     pgxErr.ColumnName,
			detail:     pgxErr.Detail,
			message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgFacts{
			sqlState:   string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			column:     pqErr.Column,
			detail:     pqErr.Detail,
			message:    pqErr.Message,
		}, true
	}
	return pgFacts{}, false
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Code: CodeOf(err)}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if facts, ok := postgresFacts(err); ok {
		d.PGCode = facts.sqlState
		d.PGConstraint = facts.constraint
		d.PGTable = facts.table
		d.PGColumn = facts.column
		d.PGDetail = facts.detail
		d.PGMessage = facts.message
	}
	return d
}

// SQLSTATE values the engine reacts to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
	sqlStateAdminShutdown        = "57P01"
)

// ClassifySQL maps an untyped postgres failure to an API error. Stock columns
// carry CHECK (stock_quantity >= 0), so a check violation on them means a
// concurrent checkout took the last units. Returns nil for non-postgres errors.
func ClassifySQL(err error) *Error {
	facts, ok := postgresFacts(err)
	if !ok {
		return nil
	}
	switch state := facts.sqlState; {
	case state == sqlStateCheckViolation && strings.Contains(facts.constraint, "stock"):
		return Wrap(CodeInsufficientStock, err, "insufficient stock")
	case state == sqlStateUniqueViolation, state == sqlStateLockNotAvailable:
		return Wrap(CodeConflict, err, "concurrent update, retry the request")
	case state == sqlStateForeignKeyViolation:
		return Wrap(CodeConflict, err, "referenced record no longer exists")
	case state == sqlStateSerializationFailure,
		state == sqlStateDeadlockDetected,
		state == sqlStateQueryCanceled,
		state == sqlStateAdminShutdown,
		strings.HasPrefix(state, "08"):
		return Wrap(CodeDependency, err, "database temporarily unavailable")
	default:
		return nil
	}
}
