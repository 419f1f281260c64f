// Package shelffx provides an fx module for an Airtable-backed shelf client.
package shelffx

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/internal/config"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/stats"
	promstats "github.com/discochess/shelf/internal/stats/prometheus"
)

// Module provides a *shelf.Client reading from and writing to Airtable,
// with metrics on a *prometheus.Registry.
// Requires a config.Config and a *zap.Logger to be provided. The token is
// loaded from the environment or token file unless the config carries one.
var Module = fx.Module("shelf",
	fx.Provide(
		newRegistry,
		newStatsCollector,
		newBackend,
		newClient,
	),
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newStatsCollector(reg *prometheus.Registry) stats.Collector {
	return promstats.New(reg)
}

func newBackend(cfg config.Config, log *zap.Logger) (remote.Backend, error) {
	if cfg.Airtable.Token == "" {
		if err := cfg.LoadToken(); err != nil {
			return nil, err
		}
	}
	return cfg.NewAirtable(log)
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    config.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Backend   remote.Backend
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *shelf.Client
}

func newClient(p Params) (Result, error) {
	opts := append(p.Config.ClientOptions(),
		shelf.WithBackend(p.Backend),
		shelf.WithStats(p.Collector),
		shelf.WithLogger(p.Logger.Named("shelf")),
	)
	client, err := shelf.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
