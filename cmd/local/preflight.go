package main

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/table"
	"github.com/baderkha/access-transfer/pkg/migrate/table/colmap"
)

// preflight : describes the selected tables up front and warns about columns that have no
// mysql type. Those tables still run and fail on schema creation, the rest are unaffected.
func preflight(ctx context.Context, log zerolog.Logger, source *sql.DB, objs []catalog.Object, selection []string, limit int) {
	idx := catalog.Index(objs)
	tables := lo.Filter(selection, func(name string, _ int) bool {
		o, ok := idx[name]
		return ok && o.Kind == catalog.KindTable
	})
	if len(tables) == 0 {
		return
	}
	infos, err := table.DescribeAll(ctx, table.NewInfoFetcherSQL(source, table.QuoteBrackets), tables, limit)
	if err != nil {
		log.Warn().Err(err).Msg("preflight : could not describe source tables")
		return
	}
	var castErr error
	for _, ifo := range infos {
		if err := table.GenerateTargetCast(colmap.AccessToMysql, ifo); err != nil {
			castErr = multierror.Append(castErr, err)
		}
	}
	if castErr != nil {
		log.Warn().Err(castErr).Msg("preflight : these tables will fail schema creation")
		return
	}
	log.Info().Int("tables", len(tables)).Msg("preflight ok")
}
