package table

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/baderkha/access-transfer/pkg/migrate/table/colmap"
)

func TestQuoteBrackets(t *testing.T) {
	require.Equal(t, "[Order Details]", QuoteBrackets("Order Details"))
	require.Equal(t, "[a]]b]", QuoteBrackets("a]b"))
}

func TestInfoFetcherSQL_Describe(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM \[Customers\] WHERE 1=0`).
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("CustomerID").OfType("COUNTER", int64(0)).Nullable(false),
			sqlmock.NewColumn("CompanyName").OfType("VARCHAR", "").WithLength(40).Nullable(true),
		))

	ifo, err := NewInfoFetcherSQL(db, nil).Describe(context.Background(), "Customers")
	require.NoError(t, err)
	require.Equal(t, "Customers", ifo.TableName)
	require.Equal(t, []string{"CustomerID", "CompanyName"}, ifo.Columns())
	require.Equal(t, "COUNTER", ifo.Schema[0].Type)
	require.False(t, ifo.Schema[0].Nullable)
	require.EqualValues(t, 40, ifo.Schema[1].Length)

	require.NoError(t, GenerateTargetCast(colmap.AccessToMysql, ifo))
	require.Equal(t, "INT", ifo.Schema[0].TargetType)
	require.Equal(t, "VARCHAR(40)", ifo.Schema[1].TargetType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateTargetCast_Unmappable(t *testing.T) {
	ifo := &Info{TableName: "Docs", Schema: []*ColumnTypes{{ColumnName: "Files", Type: "ATTACHMENT"}}}
	err := GenerateTargetCast(colmap.AccessToMysql, ifo)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Files")
}

type fakeFetcher map[string]error

func (f fakeFetcher) Describe(_ context.Context, name string) (*Info, error) {
	if err := f[name]; err != nil {
		return nil, err
	}
	return &Info{TableName: name}, nil
}

func TestDescribeAll(t *testing.T) {
	res, err := DescribeAll(context.Background(), fakeFetcher{}, []string{"A", "B", "C"}, 2)
	require.NoError(t, err)
	require.Equal(t, "A", res[0].TableName)
	require.Equal(t, "C", res[2].TableName)

	boom := errors.New("boom")
	_, err = DescribeAll(context.Background(), fakeFetcher{"B": boom}, []string{"A", "B"}, 0)
	require.ErrorIs(t, err, boom)
}
