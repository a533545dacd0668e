// Package dbtypes holds column types gorm cannot map on its own.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a uuid[] column. The array literal is parsed by lib/pq, so
// the same value round-trips through postgres and the sqlite text column used
// in tests.
type UUIDArray []uuid.UUID

func (a *UUIDArray) Scan(src any) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("scan uuid array: %w", err)
	}
	ids := make(UUIDArray, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("scan uuid array: element %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

// Value never writes NULL; an empty set is stored as {}.
func (a UUIDArray) Value() (driver.Value, error) {
	raw := make(pq.StringArray, len(a))
	for i, id := range a {
		raw[i] = id.String()
	}
	return raw.Value()
}

// Canonical returns the distinct ids in ascending order. Two arrays holding
// the same set are equal after Canonical regardless of input order.
func (a UUIDArray) Canonical() UUIDArray {
	out := slices.Clone(a)
	if out == nil {
		out = UUIDArray{}
	}
	slices.SortFunc(out, func(x, y uuid.UUID) int { return strings.Compare(x.String(), y.String()) })
	return slices.Compact(out)
}

// Key renders the canonical set comma separated; the empty set is "".
func (a UUIDArray) Key() string {
	canon := a.Canonical()
	parts := make([]string, len(canon))
	for i, id := range canon {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
