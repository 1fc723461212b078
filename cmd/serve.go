package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdpdash/api"
	"sdpdash/events"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		port   string
		webDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and live event stream",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, _ []string, s *session) error {
			if port == "" {
				port = s.cfg.Port
			}
			return serve(cmd.Context(), cmd.OutOrStdout(), s, port, webDir)
		}),
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (defaults to the configured port)")
	cmd.Flags().StringVar(&webDir, "web-dir", "web/dist", "built dashboard to serve, if present")
	return cmd
}

func serve(ctx context.Context, out io.Writer, s *session, port, webDir string) error {
	broker := events.NewBroker(s.logger.Named("events"))
	apiServer := api.NewServer(s.sh, broker, s.logger.Named("api"), api.WithWebDir(webDir))
	// Request contexts end with ctx so open event streams do not hold up
	// shutdown.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("🚀 Starting sdp dashboard", zap.String("port", port), zap.String("backend", s.sh.Gateway.BaseURL()))
	fmt.Fprintf(out, "📊 Dashboard: http://localhost:%s\n", port)
	fmt.Fprintf(out, "🔌 Backend:   %s\n", s.sh.Gateway.BaseURL())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sh.Run(ctx) })
	g.Go(func() error { return apiServer.Relay(ctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
