// package copier
//
// per kind strategies for moving one object to the target. the worker drives them one
// bounded step at a time, so every method must honour ctx cancellation
package copier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
)

// Cursor : opaque position inside an object's rows, owned by the copier that produced it
type Cursor interface {
	Close() error
}

// Batch : the outcome of one CopyBatch step. Rows are committed on the target when returned.
type Batch struct {
	Rows  int64
	Next  Cursor
	Final bool
}

// Copier : moves one kind of object. CreateSchema runs once before the first batch and
// Finalize once after the last one.
type Copier interface {
	CreateSchema(ctx context.Context, obj catalog.Object, conn *sql.Conn) error
	CopyBatch(ctx context.Context, obj catalog.Object, cur Cursor, batchSize int, conn *sql.Conn) (Batch, error)
	Finalize(ctx context.Context, obj catalog.Object, conn *sql.Conn) error
}

// RowCounter : implemented by copiers that can discover a row count the catalog did not give
type RowCounter interface {
	CountRows(ctx context.Context, obj catalog.Object) (int64, error)
}

// Registry : the closed set of variants, one per kind
type Registry map[catalog.Kind]Copier

// For : copier for a kind
func (r Registry) For(kind catalog.Kind) (Copier, error) {
	c, ok := r[kind]
	if !ok || c == nil {
		return nil, fmt.Errorf("no copier registered for kind %s", kind)
	}
	return c, nil
}

// Translator : turns a source query/procedure definition into target SQL
type Translator func(kind catalog.Kind, definition string) (string, error)

// Passthrough : no translation, the definition is used verbatim
func Passthrough(_ catalog.Kind, definition string) (string, error) {
	return definition, nil
}

// WrapQ : mysql identifier quoting
func WrapQ(sql string) string {
	return "`" + strings.ReplaceAll(sql, "`", "``") + "`"
}

// PrefixTableName : rows are staged under this name and renamed into place once complete
func PrefixTableName(tableName string) string {
	return fmt.Sprintf("TEMP_MIGRATION_%s", tableName)
}

func UnPrefixTableName(prefixedTName string) string {
	return strings.TrimPrefix(prefixedTName, "TEMP_MIGRATION_")
}

// unit : a finished cursor-less step for single unit kinds
func unit() Batch {
	return Batch{Rows: 1, Final: true}
}
