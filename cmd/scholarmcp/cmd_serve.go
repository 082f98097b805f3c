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
	"golang.org/x/sync/errgroup"

	"github.com/scholarmcp/scholarmcp/internal/metrics"
	"github.com/scholarmcp/scholarmcp/internal/oauth"
	"github.com/scholarmcp/scholarmcp/internal/scholar"
	"github.com/scholarmcp/scholarmcp/internal/session"
	"github.com/scholarmcp/scholarmcp/internal/transport"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over streamable HTTP",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met, err := metrics.New(nil)
	if err != nil {
		return err
	}

	var clientOpts []scholar.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, scholar.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, scholar.WithClientLogger(log))
	registry := scholar.NewToolset(scholar.NewClient(clientOpts...))

	sessions := session.NewManager(
		session.WithLogger(log),
		session.WithMetrics(met),
	)

	handlerOpts := []transport.HandlerOption{
		transport.WithLogger(log),
		transport.WithMetrics(met),
		transport.WithRealm("mcp"),
	}
	if cfg.AuthToken != "" {
		handlerOpts = append(handlerOpts, transport.WithStaticToken(cfg.AuthToken))
	}

	var store *oauth.Store
	var oh *oauth.Handler
	if cfg.OAuthEnabled {
		store = oauth.NewStore(
			oauth.WithStoreLogger(log),
			oauth.WithStoreMetrics(met),
		)
		oh = oauth.NewHandler(store, cfg.BaseURL,
			oauth.WithHandlerLogger(log),
			oauth.WithHandlerMetrics(met),
		)
		handlerOpts = append(handlerOpts, transport.WithOAuth(store, oh.ProtectedResourceMetadataURL()))
	}

	handler := transport.NewHandler(sessions, registry, cfg.BaseURL, handlerOpts...)
	if oh != nil {
		handler.RegisterOAuthEndpoints(oh)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http.listen", slog.String("addr", cfg.Addr), slog.String("base_url", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := sessions.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if store != nil {
		g.Go(func() error {
			err := store.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("http.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
