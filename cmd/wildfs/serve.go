package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wildfs/wildfs/internal/adapter"
	"github.com/wildfs/wildfs/pkg/api"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tree over HTTP together with the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig("")
			if err != nil {
				return err
			}
			if address != "" {
				cfg.API.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := adapter.New(ctx, cfg, c.adapterOptions...)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}

			serverConfig := api.DefaultServerConfig()
			serverConfig.Address = cfg.API.Address
			serverConfig.ReadTimeout = cfg.API.ReadTimeout
			serverConfig.WriteTimeout = cfg.API.WriteTimeout
			server := api.NewServer(serverConfig, a.DFS(), a.Health(), a.Logger())

			serveErr := make(chan error, 1)
			go func() { serveErr <- server.Start() }()

			select {
			case err = <-serveErr:
				if err == http.ErrServerClosed {
					err = nil
				}
			case <-ctx.Done():
				a.Logger().Info("Received shutdown signal")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = fmt.Errorf("failed to shut down API server: %w", serr)
			}
			if serr := a.Stop(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides api.address)")
	return cmd
}
