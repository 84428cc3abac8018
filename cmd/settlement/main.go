package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db"
	"inclusivebank-settlement/pkg/logger"
	"inclusivebank-settlement/pkg/redis"
	"inclusivebank-settlement/pkg/sequence"
	"inclusivebank-settlement/services/bootstrap"
	"inclusivebank-settlement/services/multisig"
	"inclusivebank-settlement/services/settlement"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		token.Module,
		voucher.Module,
		settlement.Module,
		multisig.Module,
		bootstrap.Module,
		fx.Invoke(
			db.Otel,
			db.Metric,
			registerAdminHandlers,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
