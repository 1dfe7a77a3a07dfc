package app

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/fx"

	"github.com/anycode/anycode-backend/src/anycode/gateway"
	"github.com/anycode/anycode-backend/src/anycode/handler"
	"github.com/anycode/anycode-backend/src/anycode/internal/core"
	"github.com/anycode/anycode-backend/src/anycode/internal/fs"
	"github.com/anycode/anycode-backend/src/anycode/internal/jsonrpcfx"
)

// Module defines the anycode-daemon application module.
var Module = fx.Options(
	gateway.Module, // outbounds
	handler.Module, // inbounds
	jsonrpcfx.Module,
	fs.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "anycode-daemon",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	fx.Decorate(decorateEnvContext),
	fx.Decorate(decorateConfigProvider),
	fx.Provide(func() Context {
		return Context{
			Environment:        EnvLocal,
			RuntimeEnvironment: EnvLocal,
		}
	}),
)
