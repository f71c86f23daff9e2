package copier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
	"github.com/baderkha/access-transfer/pkg/migrate/table"
	"github.com/baderkha/access-transfer/pkg/migrate/table/colmap"
)

// Table : streams rows from the source into a staging table on the target, one transaction
// per batch, then swaps the staging table into place
type Table struct {
	source  *sql.DB
	fetcher table.InfoFetcher
	quote   func(string) string
	cast    colmap.Type
	log     zerolog.Logger
}

// NewTable : quote is the source identifier quoting, brackets when nil
func NewTable(source *sql.DB, fetcher table.InfoFetcher, quote func(string) string, log zerolog.Logger) *Table {
	if quote == nil {
		quote = table.QuoteBrackets
	}
	return &Table{source: source, fetcher: fetcher, quote: quote, cast: colmap.AccessToMysql, log: log}
}

type tableCursor struct {
	rows   *sql.Rows
	ctx    context.Context
	cancel context.CancelFunc
	cols   []string
}

func (c *tableCursor) Close() error {
	defer c.cancel()
	return c.rows.Close()
}

func (t *Table) CountRows(ctx context.Context, obj catalog.Object) (int64, error) {
	var n int64
	err := t.source.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.quote(obj.Name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s : %w", obj.Name, err)
	}
	return n, nil
}

func (t *Table) CreateSchema(ctx context.Context, obj catalog.Object, conn *sql.Conn) error {
	ifo, err := t.fetcher.Describe(ctx, obj.Name)
	if err != nil {
		return err
	}
	if len(ifo.Schema) == 0 {
		return errclass.New(errclass.SchemaCreation, fmt.Errorf("%s has no columns", obj.Name))
	}
	if err := table.GenerateTargetCast(t.cast, ifo); err != nil {
		return errclass.New(errclass.SchemaCreation, err)
	}
	defs := make([]string, len(ifo.Schema))
	for i, col := range ifo.Schema {
		defs[i] = WrapQ(col.ColumnName) + " " + col.TargetType
		if !col.Nullable {
			defs[i] += " NOT NULL"
		}
	}
	staging := WrapQ(PrefixTableName(obj.Name))
	if _, err := conn.ExecContext(ctx, `DROP TABLE IF EXISTS `+staging); err != nil {
		return errclass.ClassifySchema(err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, staging, strings.Join(defs, ", "))); err != nil {
		return errclass.ClassifySchema(err)
	}
	t.log.Debug().Str("table", obj.Name).Int("columns", len(defs)).Msg("staging table created")
	return nil
}

func (t *Table) CopyBatch(ctx context.Context, obj catalog.Object, cur Cursor, batchSize int, conn *sql.Conn) (Batch, error) {
	c, _ := cur.(*tableCursor)
	if c == nil {
		var err error
		if c, err = t.open(ctx, obj); err != nil {
			return Batch{}, err
		}
	}
	// the read itself is detached from ctx, a stalled source still has to give up at the
	// batch deadline so the cursor is torn down when ctx ends
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	if batchSize < 1 {
		batchSize = 1
	}
	var (
		vals  = make([]any, 0, batchSize*len(c.cols))
		rows  int64
		final bool
	)
	for rows < int64(batchSize) {
		if err := ctx.Err(); err != nil {
			return Batch{Next: c}, fmt.Errorf("reading %s : %w", obj.Name, err)
		}
		if !c.rows.Next() {
			final = true
			break
		}
		row := make([]any, len(c.cols))
		ptrs := make([]any, len(c.cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return Batch{Next: c}, fmt.Errorf("reading %s : %w", obj.Name, err)
		}
		vals = append(vals, row...)
		rows++
	}
	if err := c.rows.Err(); err != nil {
		return Batch{Next: c}, fmt.Errorf("reading %s : %w", obj.Name, err)
	}
	if rows > 0 {
		if err := t.insert(ctx, obj, c.cols, vals, rows, conn); err != nil {
			return Batch{Next: c}, err
		}
	}
	return Batch{Rows: rows, Next: c, Final: final}, nil
}

func (t *Table) Finalize(ctx context.Context, obj catalog.Object, conn *sql.Conn) error {
	final := WrapQ(obj.Name)
	if _, err := conn.ExecContext(ctx, `DROP TABLE IF EXISTS `+final); err != nil {
		return errclass.ClassifySchema(err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`RENAME TABLE %s TO %s`, WrapQ(PrefixTableName(obj.Name)), final)); err != nil {
		return errclass.ClassifySchema(err)
	}
	return nil
}

// open starts the source read. The query spans many batches so it is detached from ctx,
// CopyBatch bounds each read by its own deadline and Close tears it down.
func (t *Table) open(ctx context.Context, obj catalog.Object) (*tableCursor, error) {
	ifo, err := t.fetcher.Describe(ctx, obj.Name)
	if err != nil {
		return nil, err
	}
	cols := ifo.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = t.quote(c)
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rows, err := t.source.QueryContext(rctx, fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(quoted, ","), t.quote(obj.Name)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("reading %s : %w", obj.Name, err)
	}
	return &tableCursor{rows: rows, ctx: rctx, cancel: cancel, cols: cols}, nil
}

func (t *Table) insert(ctx context.Context, obj catalog.Object, cols []string, vals []any, rows int64, conn *sql.Conn) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = WrapQ(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	tuples := make([]string, rows)
	for i := range tuples {
		tuples[i] = tuple
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`, WrapQ(PrefixTableName(obj.Name)), strings.Join(quoted, ","), strings.Join(tuples, ","))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("writing %s : %w", obj.Name, err)
	}
	if _, err := tx.ExecContext(ctx, stmt, vals...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("writing %s : %w", obj.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("writing %s : %w", obj.Name, err)
	}
	return nil
}
