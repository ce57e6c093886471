package database

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"suiterunner/internal/config"
)

// New opens the configured database handle. SQLite is put into WAL mode with
// a busy timeout and a single connection, so the API server and the engine
// can share one file without write conflicts.
func New(conf *config.SRConfig) (*sqlx.DB, error) {
	switch conf.Database.Driver {
	case config.DriverSQLite:
		db, err := sqlx.Connect("sqlite", conf.Database.DSN())
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("could not apply %q: %w", pragma, err)
			}
		}
		return db, nil

	case config.DriverPostgres:
		return sqlx.Connect("pgx", conf.Database.DSN())

	default:
		return nil, fmt.Errorf("unknown database driver %q", conf.Database.Driver)
	}
}
