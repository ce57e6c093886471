package runcmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"suiterunner/internal/api"
	"suiterunner/internal/config"
	"suiterunner/internal/engine"
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Starts the server, the engine and a worker in one process",
	Long: `Starts every service in a single process. With the default in-process
queue backend this is the only arrangement that works, since that queue
cannot be shared between processes.`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running all services in one process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.Level())

		db := mustDatabase(conf)
		q := mustQueue(conf)

		ctx, cancel := context.WithCancel(context.Background())
		st := mustStore(ctx, db)

		dispatcher := engine.NewDispatcher(st, q, conf.Engine)
		runner := engine.NewSimulatedRunner(conf.Engine.TestDuration())
		wrk := engine.NewWorker(st, q, runner, conf.Engine)
		server := &http.Server{
			Addr:    conf.Server.Address(),
			Handler: api.New(ctx, st),
		}

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := q.Close(); err != nil {
				log.Printf("Could not close queue cleanly on shutdown: %v\n", err)
			}

			cancel()
			dispatcher.Stop()
			wrk.Stop()
		}()

		if err := dispatcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start dispatcher")
		}

		errCh := make(chan error, 2)
		go func() {
			errCh <- wrk.Start()
		}()
		go func() {
			errCh <- server.ListenAndServe()
		}()
		log.Info().Str("addr", server.Addr).Str("worker_id", wrk.ID).Msg("All services up")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Ran into problems")
			}
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
			shutdownServer(server)
		}
	},
}
