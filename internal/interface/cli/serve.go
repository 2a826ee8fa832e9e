package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newServeCmd() *cobra.Command {
	var (
		addr          string
		sweepInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the signing pages and the technician API",
		RunE: func(c *cobra.Command, _ []string) error {
			return withContainer(c, func(ctx context.Context, ct *di.Container) error {
				handler, err := ct.HTTPHandler()
				if err != nil {
					return err
				}
				server := ct.Config().Server()
				if addr == "" {
					addr = server.Addr
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("listen on %s: %w", addr, err)
				}

				if sweepInterval > 0 {
					sweepCtx, cancel := context.WithCancel(ctx)
					done := make(chan struct{})
					go func() {
						defer close(done)
						runSweeper(sweepCtx, ct, sweepInterval)
					}()
					defer func() {
						cancel()
						<-done
					}()
				}

				ct.Logger().Info("serving on %s (signing links under %s)", ln.Addr(), server.PublicOrigin)
				srv := &http.Server{
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				return runServer(ctx, srv, ln, server.ShutdownTimeout, ct.Logger())
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "Persist expired status for lapsed links at this interval (0 disables)")
	return cmd
}

// runServer serves on ln until ctx is done, then drains in-flight
// requests for at most shutdownTimeout
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger app.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runSweeper(ctx context.Context, ct *di.Container, interval time.Duration) {
	w := ct.NewWorkflow()
	defer w.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				ct.Logger().Warn("sweep failed: %v", err)
			}
		}
	}
}
