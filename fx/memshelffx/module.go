// Package memshelffx provides an fx module for a shelf client backed by an
// in-memory remote store. Useful for testing.
package memshelffx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/internal/remote/memremote"
	"github.com/discochess/shelf/internal/stats"
	"github.com/discochess/shelf/internal/stats/logger"
)

// Module provides an in-memory shelf client for testing.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memshelf",
	fx.Provide(
		newStatsCollector,
		newRemote,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("shelf.stats"))
}

func newRemote() *memremote.Store {
	return memremote.New()
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Remote    *memremote.Store
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *shelf.Client
}

func newClient(p Params) (Result, error) {
	client, err := shelf.New(
		shelf.WithBackend(p.Remote),
		shelf.WithStats(p.Collector),
		shelf.WithLogger(p.Logger.Named("shelf")),
	)
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
