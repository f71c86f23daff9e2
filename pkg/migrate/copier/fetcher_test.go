package copier

import (
	"context"
	"fmt"

	"github.com/baderkha/access-transfer/pkg/migrate/table"
)

// staticFetcher : table name -> column name -> source type
type staticFetcher map[string]map[string]string

func (f staticFetcher) Describe(_ context.Context, name string) (*table.Info, error) {
	cols, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("no such table %s", name)
	}
	ifo := &table.Info{TableName: name}
	for c, typ := range cols {
		ifo.Schema = append(ifo.Schema, &table.ColumnTypes{ColumnName: c, Type: typ, Nullable: true})
	}
	return ifo, nil
}
