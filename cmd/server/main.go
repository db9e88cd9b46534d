package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"redlight/internal/app"
	"redlight/internal/config"
	"redlight/internal/logbook"
	httpTransport "redlight/internal/transport/http"
	"redlight/internal/transport/tcp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "redlight-server",
		Short:         "Hosts a round of Red Light, Green Light over TCP.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting red light host",
		"env", cfg.Server.Env,
		"addr", cfg.GetAddr(),
		"players", cfg.Game.Players,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := logbook.NewStore(afero.NewOsFs(), cfg.Game.LogFile)
	session := app.NewSession(cfg.Game, store, logger)

	// the listener outlives the signal until KillAll has gone out
	listenCtx, closeListener := context.WithCancel(context.Background())
	defer closeListener()
	tcpServer := tcp.NewServer(cfg.GetAddr(), session, cfg.Server.WriteTimeout, logger)

	var httpServer *httpTransport.Server
	if cfg.HTTP.Enabled {
		httpServer = httpTransport.NewServer(cfg, session, store, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tcpServer.ListenAndServe(listenCtx)
	})

	if httpServer != nil {
		g.Go(func() error {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down host...")

		err := session.Shutdown()
		closeListener()

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if herr := httpServer.Shutdown(shutdownCtx); herr != nil {
				logger.Error("http server forced to shutdown", "error", herr)
			}
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("host stopped")
	return nil
}
