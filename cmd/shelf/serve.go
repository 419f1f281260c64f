package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/fx/shelffx"
	"github.com/discochess/shelf/internal/config"
	"github.com/discochess/shelf/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the inventory over HTTP",
	Long: `Run the HTTP API in front of the cached inventory.

Routes:
  GET  /books, /books/available, /books/checked-out, /books/{id}
  GET  /users
  POST /books/{id}/checkout, /books/{id}/return   (user_id form value or JSON)
  POST /refresh
  GET  /healthz, /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr string
	warmCache bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides the config)")
	serveCmd.Flags().BoolVar(&warmCache, "warm", true, "refresh the cache before accepting requests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	app := fx.New(
		fx.Supply(cfg, log),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		shelffx.Module,
		fx.Provide(newHTTPServer),
		fx.Invoke(func(*http.Server) {}),
	)
	app.Run()
	return app.Err()
}

// serverParams holds dependencies for the HTTP server.
type serverParams struct {
	fx.In

	Config    config.Config
	Logger    *zap.Logger
	Client    *shelf.Client
	Registry  *prometheus.Registry
	Lifecycle fx.Lifecycle
}

func newHTTPServer(p serverParams) *http.Server {
	log := p.Logger.Named("http")
	handler := httpapi.New(p.Client,
		httpapi.WithLogger(log),
		httpapi.WithMetrics(promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})),
	)
	srv := &http.Server{
		Addr:              p.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if warmCache {
				// A cold remote is not fatal: reads retry the refresh.
				if err := p.Client.Refresh(ctx); err != nil {
					log.Warn("initial refresh failed", zap.Error(err))
				}
			}

			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
