package main

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/fluxio/internal/config"
	"github.com/vango-dev/fluxio/internal/errors"
)

func serveCmd(g *globals) *cobra.Command {
	var (
		addr     string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured store over HTTP",
		Long: `Serve every stored key as a node over HTTP and WebSocket.

Routes:
  GET    /nodes              list keys
  GET    /nodes/{key}        read a value
  PUT    /nodes/{key}        set a value
  DELETE /nodes/{key}        delete a value
  GET    /nodes/{key}/watch  stream changes (WebSocket)
  GET    /metrics            Prometheus metrics
  GET    /healthz            store health

Examples:
  fluxctl serve
  fluxctl serve --addr :7070
  fluxctl serve --config prod.yaml --read-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if readOnly {
				cfg.Server.ReadOnly = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from config)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Reject writes")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, w io.Writer) error {
	logger := cfg.Logger(os.Stderr).With("component", "fluxctl")

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		a.Close(context.Background())
		return errors.New("F003").WithDetailf("Cannot listen on %s", cfg.Server.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	success(w, "serving %s on http://%s", a.summary(), ln.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if cerr := a.Close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
