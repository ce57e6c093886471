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

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs a worker process",
	Long:  "Workers consume queued runs, execute the suite and record the outcome.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running worker process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.Level())

		db := mustDatabase(conf)
		q := mustQueue(conf)

		ctx, cancel := context.WithCancel(context.Background())
		runner := engine.NewSimulatedRunner(conf.Engine.TestDuration())
		wrk := engine.NewWorker(mustStore(ctx, db), q, runner, conf.Engine)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			errCh <- wrk.Start()
		}()

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := q.Close(); err != nil {
				log.Printf("Could not close queue cleanly on shutdown: %v\n", err)
			}

			cancel()
			wrk.Stop()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				log.Fatal().Err(err).Str("worker_id", wrk.ID).Msg("Ran into problems")
			}
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
		}
	},
}
