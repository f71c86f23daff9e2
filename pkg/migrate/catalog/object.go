// package catalog
//
// describes the objects a legacy source database exposes for transfer
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind : the closed set of object kinds the engine knows how to move
type Kind string

const (
	// KindTable : row bearing table, copied in batches
	KindTable Kind = "TABLE"
	// KindQuery : stored query, moved as a single unit
	KindQuery Kind = "QUERY"
	// KindProcedure : stored procedure, moved as a single unit
	KindProcedure Kind = "PROCEDURE"
)

var (
	// ErrSourceUnavailable : the source database could not be opened or read
	ErrSourceUnavailable = errors.New("source unavailable")
)

// ParseKind : case insensitive parse of a kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindTable, KindQuery, KindProcedure:
		return k, nil
	}
	return "", fmt.Errorf("unknown object kind %q", s)
}

// RowBearing : true when objects of this kind carry rows that are streamed in batches
func (k Kind) RowBearing() bool {
	return k == KindTable
}

// Object : a transferable object listed by the catalog. Treat as immutable once listed.
type Object struct {
	Name                 string `json:"name" yaml:"name"`
	Kind                 Kind   `json:"kind" yaml:"kind"`
	EstimatedRecordCount *int64 `json:"estimated_record_count,omitempty" yaml:"estimated_record_count,omitempty"`
	// Definition is the source SQL text for queries and procedures
	Definition string `json:"definition,omitempty" yaml:"definition,omitempty"`
}

// Count : helper for building an EstimatedRecordCount
func Count(n int64) *int64 {
	return &n
}

// Client : lists the objects available in a source
type Client interface {
	ListObjects(ctx context.Context) ([]Object, error)
}
