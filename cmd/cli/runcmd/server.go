package runcmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"suiterunner/internal/api"
	"suiterunner/internal/config"
)

const shutdownGrace = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the REST API server",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running API server process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.Level())

		db := mustDatabase(conf)

		ctx, cancel := context.WithCancel(context.Background())
		server := &http.Server{
			Addr:    conf.Server.Address(),
			Handler: api.New(ctx, mustStore(ctx, db)),
		}

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			cancel()
		}()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		log.Info().Str("addr", server.Addr).Msg("API server listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("API server failed")
			}
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
			shutdownServer(server)
		}
	},
}

// shutdownServer drains in-flight requests before the process exits
func shutdownServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Could not shut down API server cleanly")
	}
}
