package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/services/multisig"
	"inclusivebank-settlement/services/settlement"
	"inclusivebank-settlement/services/testutil"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	db := testutil.NewTestDB(t)

	cfg := &config.Config{}
	cfg.Token.DailyLimit = 500
	cfg.Voucher.Denominations = []int64{10, 20}
	cfg.Multisig.Owners = []string{"a", "b", "c"}
	cfg.Multisig.Threshold = 2

	return NewService(ServiceParams{DB: db, Config: cfg})
}

func TestMigrateSeedsPolicyRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Migrate(ctx))

	var state token.State
	require.NoError(t, svc.db.First(&state).Error)
	require.Equal(t, int64(500), state.DailyLimit)
	require.Zero(t, state.TotalSupply)

	var fees settlement.FeeSchedule
	require.NoError(t, svc.db.First(&fees).Error)
	require.Equal(t, int64(settlement.DefaultTransferFeeBps), fees.TransferFeeBps)
	require.Equal(t, int64(settlement.DefaultWithdrawalFeeBps), fees.WithdrawalFeeBps)

	var denomCount int64
	require.NoError(t, svc.db.Model(&voucher.Denomination{}).Count(&denomCount).Error)
	require.Equal(t, int64(2), denomCount)

	var ownerCount int64
	require.NoError(t, svc.db.Model(&multisig.Owner{}).Count(&ownerCount).Error)
	require.Equal(t, int64(3), ownerCount)
}

func TestMigrateIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Migrate(ctx))
	require.NoError(t, svc.Migrate(ctx))

	var denomCount int64
	require.NoError(t, svc.db.Model(&voucher.Denomination{}).Count(&denomCount).Error)
	require.Equal(t, int64(2), denomCount)
}

func TestMigrateRejectsInvalidOwnerSet(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Multisig.Owners = []string{"a"}
	cfg.Multisig.Threshold = 2

	svc := NewService(ServiceParams{DB: db, Config: cfg})
	require.Error(t, svc.Migrate(context.Background()))
}

func TestMigrateDefaultsDenominations(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Multisig.Owners = []string{"a"}
	cfg.Multisig.Threshold = 1

	svc := NewService(ServiceParams{DB: db, Config: cfg})
	require.NoError(t, svc.Migrate(context.Background()))

	var amounts []int64
	require.NoError(t, svc.db.Model(&voucher.Denomination{}).Order("amount ASC").Pluck("amount", &amounts).Error)
	require.Equal(t, []int64{10, 20, 50, 100}, amounts)
}
