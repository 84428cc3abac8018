package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log"
	"os"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db"
	"inclusivebank-settlement/pkg/logger"
	"inclusivebank-settlement/pkg/redis"
	"inclusivebank-settlement/pkg/sequence"
	"inclusivebank-settlement/services/bootstrap"
	"inclusivebank-settlement/services/voucher"
)

var (
	countPerDenom = flag.Int("count", 25, "vouchers to generate per denomination")
	manifestPath  = flag.String("out", "vouchers.csv", "manifest file for the generated codes")
)

func main() {
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		voucher.Module,
		bootstrap.Module,
		fx.Invoke(seedVouchers),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

type seedParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Sequence   sequence.Generator
	Vouchers   *voucher.Service
}

// seedVouchers generates codes per denomination, registers them in one batch
// and writes the plaintext manifest for distribution. The manifest is the
// only place the plaintext codes exist after this run.
func seedVouchers(p seedParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() { _ = p.Shutdowner.Shutdown() }()
				if err := run(context.Background(), p); err != nil {
					zap.L().Error("voucher seeding failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

func run(ctx context.Context, p seedParams) error {
	denominations, err := p.Vouchers.GetDenominations(ctx)
	if err != nil {
		return err
	}

	total := len(denominations) * *countPerDenom
	codes := make([]string, 0, total)
	amounts := make([]int64, 0, total)
	for _, amount := range denominations {
		for i := 0; i < *countPerDenom; i++ {
			code, err := p.Sequence.NextVoucherCode(ctx)
			if err != nil {
				return err
			}
			codes = append(codes, code)
			amounts = append(amounts, amount)
		}
	}

	if err := p.Vouchers.CreateVoucherBatch(ctx, p.Config.Voucher.Owner, codes, amounts); err != nil {
		return err
	}

	f, err := os.Create(*manifestPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"code", "amount"}); err != nil {
		return err
	}
	for i, code := range codes {
		if err := w.Write([]string{code, strconv.FormatInt(amounts[i], 10)}); err != nil {
			return err
		}
	}

	zap.L().Info("vouchers generated",
		zap.Int("count", len(codes)),
		zap.String("manifest", *manifestPath),
	)
	return nil
}
