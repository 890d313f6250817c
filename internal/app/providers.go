package app

import (
	"context"

	"botwatch/internal/config"

	"github.com/google/wire"
)

var providerSet = wire.NewSet(provideAppBuilder, provideAppFromBuilder)

func provideAppFromBuilder(b *AppBuilder, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
