package copier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
)

// Query : a stored query is replayed as a view on the target, as one unit
type Query struct {
	Translate Translator
}

// Procedure : a stored procedure is replayed as a target stored routine, as one unit
type Procedure struct {
	Translate Translator
}

func (q *Query) CreateSchema(context.Context, catalog.Object, *sql.Conn) error { return nil }
func (q *Query) Finalize(context.Context, catalog.Object, *sql.Conn) error     { return nil }

func (q *Query) CopyBatch(ctx context.Context, obj catalog.Object, _ Cursor, _ int, conn *sql.Conn) (Batch, error) {
	body, err := translate(q.Translate, obj)
	if err != nil {
		return Batch{}, err
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS %s`, WrapQ(obj.Name), body)); err != nil {
		return Batch{}, errclass.ClassifySchema(err)
	}
	return unit(), nil
}

func (p *Procedure) CreateSchema(context.Context, catalog.Object, *sql.Conn) error { return nil }
func (p *Procedure) Finalize(context.Context, catalog.Object, *sql.Conn) error     { return nil }

func (p *Procedure) CopyBatch(ctx context.Context, obj catalog.Object, _ Cursor, _ int, conn *sql.Conn) (Batch, error) {
	body, err := translate(p.Translate, obj)
	if err != nil {
		return Batch{}, err
	}
	if _, err := conn.ExecContext(ctx, `DROP PROCEDURE IF EXISTS `+WrapQ(obj.Name)); err != nil {
		return Batch{}, errclass.ClassifySchema(err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE PROCEDURE %s()\nBEGIN\n%s;\nEND", WrapQ(obj.Name), body)); err != nil {
		return Batch{}, errclass.ClassifySchema(err)
	}
	return unit(), nil
}

func translate(tr Translator, obj catalog.Object) (string, error) {
	if tr == nil {
		tr = Passthrough
	}
	if strings.TrimSpace(obj.Definition) == "" {
		return "", errclass.New(errclass.SchemaCreation, fmt.Errorf("%s %s has no definition", strings.ToLower(string(obj.Kind)), obj.Name))
	}
	body, err := tr(obj.Kind, obj.Definition)
	if err != nil {
		return "", errclass.New(errclass.SchemaCreation, fmt.Errorf("translating %s : %w", obj.Name, err))
	}
	body = strings.TrimRight(strings.TrimSpace(body), ";")
	if body == "" {
		return "", errclass.New(errclass.SchemaCreation, errors.New("translation produced no sql"))
	}
	return body, nil
}
