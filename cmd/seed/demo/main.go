package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db"
	"inclusivebank-settlement/pkg/logger"
	"inclusivebank-settlement/services/bootstrap"
	"inclusivebank-settlement/services/settlement"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

type demoUser struct {
	ID       string
	Name     string
	Location string
	Float    int64
}

var demoUsers = []demoUser{
	{ID: "demo:amara", Name: "Amara Okafor", Location: "Lagos", Float: 5000},
	{ID: "demo:kwame", Name: "Kwame Mensah", Location: "Accra", Float: 3000},
	{ID: "demo:fatima", Name: "Fatima Diallo", Location: "Dakar", Float: 2000},
	{ID: "demo:joseph", Name: "Joseph Banda", Location: "Lusaka", Float: 1500},
}

const poolFloat = 100000

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		token.Module,
		voucher.Module,
		settlement.Module,
		bootstrap.Module,
		fx.Invoke(seedDemo),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

type seedParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Tokens     *token.Service
	Settlement *settlement.Service
}

// seedDemo enrolls a handful of users, funds them and the pool, and produces
// a spread of activity so a fresh environment has something to look at.
func seedDemo(p seedParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() { _ = p.Shutdowner.Shutdown() }()
				if err := run(context.Background(), p); err != nil {
					zap.L().Error("demo seeding failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

func run(ctx context.Context, p seedParams) error {
	owner := p.Config.Token.Owner

	if err := p.Tokens.Mint(ctx, owner, settlement.PoolID, poolFloat); err != nil {
		return err
	}

	for _, u := range demoUsers {
		if err := p.Settlement.RegisterUser(ctx, u.ID, u.Name, u.Location); err != nil {
			return err
		}
		if err := p.Tokens.Mint(ctx, owner, u.ID, u.Float); err != nil {
			return err
		}
	}

	// A spread of deposits, withdrawals and transfers across the demo set.
	if _, err := p.Settlement.Deposit(ctx, demoUsers[0].ID, 1200); err != nil {
		return err
	}
	if _, err := p.Settlement.Deposit(ctx, demoUsers[1].ID, 800); err != nil {
		return err
	}
	if _, err := p.Settlement.Transfer(ctx, demoUsers[0].ID, demoUsers[2].ID, 600); err != nil {
		return err
	}
	if _, err := p.Settlement.Transfer(ctx, demoUsers[1].ID, demoUsers[3].ID, 450); err != nil {
		return err
	}
	if _, err := p.Settlement.Withdraw(ctx, demoUsers[2].ID, 300); err != nil {
		return err
	}

	count, err := p.Settlement.TransactionCount(ctx)
	if err != nil {
		return err
	}

	zap.L().Info("demo data seeded",
		zap.Int("users", len(demoUsers)),
		zap.Int64("transactions", count),
	)
	return nil
}
