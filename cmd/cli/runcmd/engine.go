package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"suiterunner/internal/config"
	"suiterunner/internal/engine"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Starts the dispatch engine process",
	Long:  "The engine claims due schedules, hands their runs to the queue and sweeps runs abandoned by dead workers.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running engine process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.Level())

		db := mustDatabase(conf)
		q := mustQueue(conf)

		ctx, cancel := context.WithCancel(context.Background())
		dispatcher := engine.NewDispatcher(mustStore(ctx, db), q, conf.Engine)

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := q.Close(); err != nil {
				log.Printf("Could not close queue cleanly on shutdown: %v\n", err)
			}

			cancel()
			dispatcher.Stop()
		}()

		if err := dispatcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start dispatcher")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}
