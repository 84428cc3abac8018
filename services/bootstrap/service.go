package bootstrap

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/services/multisig"
	"inclusivebank-settlement/services/settlement"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

// defaultDenominations is used when configuration supplies none.
var defaultDenominations = []int64{10, 20, 50, 100}

// Service migrates the schema and seeds the policy rows every deployment
// needs before the first settlement: token state, fee schedule, the
// denomination set and the signing owners. Seeding is idempotent.
type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
	}
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := multisig.ValidateOwnerSet(s.config.Multisig.Owners, s.config.Multisig.Threshold); err != nil {
		zap.L().Error("[bootstrap] invalid multisig configuration", zap.Error(err))
		return err
	}

	var models []any
	models = append(models, token.Models()...)
	models = append(models, voucher.Models()...)
	models = append(models, settlement.Models()...)
	models = append(models, multisig.Models()...)
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		zap.L().Error("[bootstrap] migration failed", zap.Error(err))
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.seedTokenState(ctx, tx); err != nil {
			return err
		}
		if err := s.seedFeeSchedule(ctx, tx); err != nil {
			return err
		}
		if err := s.seedDenominations(ctx, tx); err != nil {
			return err
		}
		return s.seedOwners(ctx, tx)
	}); err != nil {
		zap.L().Error("[bootstrap] seeding failed", zap.Error(err))
		return err
	}

	zap.L().Info("[bootstrap] schema migrated and policy rows seeded")
	return nil
}

func (s *Service) seedTokenState(ctx context.Context, tx *gorm.DB) error {
	var state token.State
	err := tx.WithContext(ctx).First(&state).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.WithContext(ctx).Create(&token.State{
		ID:         1,
		DailyLimit: s.config.Token.DailyLimit,
	}).Error
}

func (s *Service) seedFeeSchedule(ctx context.Context, tx *gorm.DB) error {
	var fees settlement.FeeSchedule
	err := tx.WithContext(ctx).First(&fees).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	transferBps := s.config.Settlement.TransferFeeBps
	if transferBps == 0 {
		transferBps = settlement.DefaultTransferFeeBps
	}
	withdrawalBps := s.config.Settlement.WithdrawalFeeBps
	if withdrawalBps == 0 {
		withdrawalBps = settlement.DefaultWithdrawalFeeBps
	}

	return tx.WithContext(ctx).Create(&settlement.FeeSchedule{
		ID:               1,
		TransferFeeBps:   transferBps,
		WithdrawalFeeBps: withdrawalBps,
	}).Error
}

func (s *Service) seedDenominations(ctx context.Context, tx *gorm.DB) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&voucher.Denomination{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	amounts := s.config.Voucher.Denominations
	if len(amounts) == 0 {
		amounts = defaultDenominations
	}
	for _, amount := range amounts {
		if err := tx.WithContext(ctx).Create(&voucher.Denomination{Amount: amount}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) seedOwners(ctx context.Context, tx *gorm.DB) error {
	for _, id := range s.config.Multisig.Owners {
		var owner multisig.Owner
		err := tx.WithContext(ctx).Where("owner_id = ?", id).First(&owner).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.WithContext(ctx).Create(&multisig.Owner{ID: id}).Error; err != nil {
			return err
		}
	}
	return nil
}
