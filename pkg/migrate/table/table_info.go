// package table
//
// describes source tables so the target schema can be generated from them
package table

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/baderkha/access-transfer/pkg/migrate/table/colmap"
)

type ColumnTypes struct {
	ColumnName string `db:"col_name"`
	Type       string `db:"col_type"`
	TargetType string `db:"target_type"`
	Length     int64  `db:"length"`
	Nullable   bool   `db:"nullable"`
}

type Info struct {
	TableName string `db:"table_name"`
	Schema    []*ColumnTypes
}

// Columns : column names in source order
func (i *Info) Columns() []string {
	out := make([]string, len(i.Schema))
	for k, c := range i.Schema {
		out[k] = c.ColumnName
	}
	return out
}

// InfoFetcher : fetches the schema of source tables
type InfoFetcher interface {
	Describe(ctx context.Context, tableName string) (*Info, error)
}

// QuoteBrackets : access/jet identifier quoting
func QuoteBrackets(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// NewInfoFetcherSQL : describes tables through any database/sql driver by reading the
// column metadata of an empty result set
func NewInfoFetcherSQL(db *sql.DB, quote func(string) string) *InfoFetcherSQL {
	if quote == nil {
		quote = QuoteBrackets
	}
	return &InfoFetcherSQL{source: db, quote: quote}
}

type InfoFetcherSQL struct {
	source *sql.DB
	quote  func(string) string
}

func (m *InfoFetcherSQL) Describe(ctx context.Context, tableName string) (*Info, error) {
	rows, err := m.source.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE 1=0`, m.quote(tableName)))
	if err != nil {
		return nil, fmt.Errorf("describing %s : %w", tableName, err)
	}
	defer rows.Close()
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("describing %s : %w", tableName, err)
	}
	ifo := &Info{TableName: tableName}
	for _, ct := range cts {
		col := &ColumnTypes{ColumnName: ct.Name(), Type: ct.DatabaseTypeName(), Nullable: true}
		if l, ok := ct.Length(); ok {
			col.Length = l
		}
		if n, ok := ct.Nullable(); ok {
			col.Nullable = n
		}
		ifo.Schema = append(ifo.Schema, col)
	}
	return ifo, rows.Err()
}

// DescribeAll : describes several tables concurrently, at most limit at a time
func DescribeAll(ctx context.Context, f InfoFetcher, tableNames []string, limit int) ([]*Info, error) {
	res := make([]*Info, len(tableNames))
	wg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		wg.SetLimit(limit)
	}
	for i, name := range tableNames {
		i, name := i, name
		wg.Go(func() error {
			ifo, err := f.Describe(ctx, name)
			if err != nil {
				return err
			}
			res[i] = ifo
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// GenerateTargetCast : fills TargetType for every column, failing on the first unmappable one
func GenerateTargetCast(t colmap.Type, ifo *Info) error {
	for _, col := range ifo.Schema {
		converted, err := colmap.ConvertSized(t, col.Type, col.Length)
		if err != nil {
			return fmt.Errorf("Cast Error : Bad Casting for %s for column %s due to : %w", ifo.TableName, col.ColumnName, err)
		}
		col.TargetType = converted
	}
	return nil
}
