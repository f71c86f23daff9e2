// package connection
//
// dials the target server and hands out scoped connections to workers
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rs/zerolog"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"

	"github.com/baderkha/access-transfer/pkg/migrate/config/targetcfg"
)

// AddLogger : wraps the db so every statement is logged through zerolog
func AddLogger(db *sql.DB, dsn string, driverName string) *sql.DB {
	loggerAdapter := zerologadapter.New(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).With().Timestamp().Str("driver", driverName).Logger())
	db = sqldblogger.OpenDriver(dsn, db.Driver(), loggerAdapter,
		sqldblogger.WithWrapResult(false),
		sqldblogger.WithDurationFieldname("dur_ms"),
		sqldblogger.WithDurationUnit(sqldblogger.DurationMillisecond),
		sqldblogger.WithSQLQueryAsMessage(true),
		sqldblogger.WithSQLQueryFieldname("sql_query"),
	)
	return db
}

// Open : opens a database/sql handle for driverName, optionally query logged. The driver
// has to be registered by the binary.
func Open(driverName string, dsn string, maxConc int, qlog bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s connection : %w", driverName, err)
	}
	if qlog {
		db = AddLogger(db, dsn, driverName)
	}
	if maxConc > 0 {
		db.SetMaxOpenConns(maxConc)
		db.SetMaxIdleConns(maxConc)
	}
	return db, nil
}

// DialMysql : validates the target config, opens the pool sized to maxConc and pings it
func DialMysql(ctx context.Context, cfg *targetcfg.MYSQL, maxConc int) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("MYSQL_TARGET : invalid config : %w", err)
	}
	db, err := Open("mysql", cfg.GetDSN(), maxConc, cfg.QueryLogging)
	if err != nil {
		return nil, fmt.Errorf("MYSQL_TARGET : %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("MYSQL_TARGET : Could not reach mysql due to : %w", err)
	}
	return db, nil
}
