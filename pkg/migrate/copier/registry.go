package copier

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/table"
)

// NewRegistry : the standard variants reading from source, translating definitions with tr
func NewRegistry(source *sql.DB, quote func(string) string, tr Translator, log zerolog.Logger) Registry {
	return Registry{
		catalog.KindTable:     NewTable(source, table.NewInfoFetcherSQL(source, quote), quote, log),
		catalog.KindQuery:     &Query{Translate: tr},
		catalog.KindProcedure: &Procedure{Translate: tr},
	}
}
