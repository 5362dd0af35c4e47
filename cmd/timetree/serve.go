package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timetree/internal/api"
	"timetree/internal/config"
	"timetree/pkg/timetree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default :8080)")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	bus := timetree.NewBus()
	tree, store, err := openTree(cmd, timetree.WithBus(bus))
	if err != nil {
		return err
	}
	defer store.Close()

	root, err := tree.EnsureDefaultRoot(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: api.New(tree)}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("timetree listening", "addr", cfg.Listen, "driver", cfg.Database.Driver, "root", root.ID)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down", "streams", bus.Len())
	// Ends open attachment streams so Shutdown does not wait them out.
	bus.Close()
	return srv.Shutdown(shutdownCtx)
}
