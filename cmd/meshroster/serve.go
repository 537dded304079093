package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meshroster/internal/handler"
	"meshroster/internal/hub"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the roster HTTP API and event stream",
		Long: `Serve the roster API under /api and push roster changes to
subscribers of /events as server-sent events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := hub.New(a.logger)
			go events.Run(ctx)
			events.Forward(ctx, a.bus)

			mux := http.NewServeMux()
			handler.NewRosterHandler(a.svc, a.logger,
				handler.WithRequestTimeout(a.cfg.Server.RequestTimeout.Duration()),
			).Routes(mux, events)

			server := &http.Server{
				Addr: addr,
				Handler: handler.Chain(mux,
					handler.Recover(a.logger),
					handler.CORS,
					handler.Logger(a.logger),
				),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				IdleTimeout:       60 * time.Second,
				// No WriteTimeout: /events streams for the life of the client.
				// Validate and commit are bounded by the handler's request timeout.
			}

			serveErr := make(chan error, 1)
			go func() {
				a.logger.Info("server listening", zap.String("addr", addr))
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("server shutdown", zap.Error(err))
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: server.addr from config)")
	return cmd
}
