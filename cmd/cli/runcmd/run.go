package runcmd

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"suiterunner/internal/config"
	"suiterunner/internal/database"
	"suiterunner/internal/queue"
	"suiterunner/internal/store"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(serverCmd)
	Command.AddCommand(engineCmd)
	Command.AddCommand(workerCmd)
	Command.AddCommand(allCmd)
}

func mustDatabase(conf *config.SRConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	return db
}

func mustStore(ctx context.Context, db *sqlx.DB) *store.Store {
	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Could not prepare database schema: %v", err)
	}

	return st
}

// mustQueue builds the configured queue backend. The in-process backend only
// works when every service shares one process, see "run all".
func mustQueue(conf *config.SRConfig) queue.Client {
	switch conf.Queue.Backend {
	case config.QueueRedis:
		redis, err := queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB)
		if err != nil {
			log.Fatalf("Could not connect to redis queue: %v", err)
		}
		return redis

	case config.QueueMemory:
		return queue.NewMemoryClient(conf.Queue.Buffer)

	default:
		log.Fatalf("Unknown queue backend %q", conf.Queue.Backend)
		return nil
	}
}
