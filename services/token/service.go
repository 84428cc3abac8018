package token

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db/option"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/pkg/repository"
)

// Service maintains conserved-value balances. Every mutation keeps
// sum(balances) == total supply; value enters only through Mint.
type Service struct {
	db    *gorm.DB
	owner string

	balances repository.Repository[Balance]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		owner: p.Config.Token.Owner,

		balances: repository.ProvideStore[Balance](p.DB),
	}
}

// Mint credits `to` and grows total supply. Owner only. Pause and daily
// limits do not apply to supply events.
func (s *Service) Mint(ctx context.Context, actor, to string, amount int64) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("holder_id", to),
		zap.Int64("amount", amount),
	)

	if err := s.requireOwner(actor); err != nil {
		return err
	}
	if amount <= 0 {
		return errutil.BadRequest("mint amount must be positive", nil)
	}
	if to == "" {
		return errutil.BadRequest("mint recipient required", nil)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if state.TotalSupply > math.MaxInt64-amount {
			return errutil.UnprocessableEntity("total supply overflow", nil)
		}

		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}

		return tx.WithContext(ctx).Model(&State{}).
			Where("id = ?", stateRowID).
			Update("total_supply", gorm.Expr("total_supply + ?", amount)).Error
	})
	if err != nil {
		zapLog.Error("mint failed", zap.Error(err))
		return err
	}

	zapLog.Info("minted tokens")
	return nil
}

// Transfer moves amount between holders inside its own transaction.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.TransferTx(ctx, tx, from, to, amount)
	})
}

// TransferTx applies the pause gate, the daily spend ceiling and the balance
// check, then debits `from` and credits `to`. Callers composing several
// ledger moves into one settlement pass their own transaction; either the
// whole debit+credit pair commits or neither does.
func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, from, to string, amount int64) error {
	if amount <= 0 {
		return errutil.BadRequest("transfer amount must be positive", nil)
	}
	if from == "" || to == "" {
		return errutil.BadRequest("transfer endpoints required", nil)
	}

	tx = tx.Scopes(option.LockingUpdate)

	state, err := loadState(ctx, tx)
	if err != nil {
		return err
	}
	if state.Paused {
		return errutil.UnprocessableEntity("transfers paused", nil)
	}

	var fromRow Balance
	if err := tx.WithContext(ctx).Where("holder_id = ?", from).First(&fromRow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.UnprocessableEntity("insufficient balance", nil)
		}
		return err
	}
	if fromRow.Balance < amount {
		return errutil.UnprocessableEntity("insufficient balance", nil)
	}

	// A self-transfer moves nothing, so it must not consume daily
	// allowance either.
	if from == to {
		return nil
	}

	if state.DailyLimit > 0 {
		if err := recordDailySpend(ctx, tx, from, amount, state.DailyLimit); err != nil {
			return err
		}
	}

	if err := tx.WithContext(ctx).Model(&Balance{}).
		Where("holder_id = ?", from).
		Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
		return err
	}

	return credit(ctx, tx, to, amount)
}

// SetPaused flips the transfer gate. Owner only.
func (s *Service) SetPaused(ctx context.Context, actor string, paused bool) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadState(ctx, tx.Scopes(option.LockingUpdate)); err != nil {
			return err
		}
		return tx.WithContext(ctx).Model(&State{}).
			Where("id = ?", stateRowID).
			Update("paused", paused).Error
	})
	if err != nil {
		return err
	}

	zap.L().Info("transfer pause updated", zap.Bool("paused", paused))
	return nil
}

// SetDailyLimit sets the per-holder per-day transfer ceiling; 0 disables it.
// Owner only.
func (s *Service) SetDailyLimit(ctx context.Context, actor string, limit int64) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}
	if limit < 0 {
		return errutil.BadRequest("daily limit must not be negative", nil)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadState(ctx, tx.Scopes(option.LockingUpdate)); err != nil {
			return err
		}
		return tx.WithContext(ctx).Model(&State{}).
			Where("id = ?", stateRowID).
			Update("daily_limit", limit).Error
	})
	if err != nil {
		return err
	}

	zap.L().Info("daily transfer limit updated", zap.Int64("limit", limit))
	return nil
}

func (s *Service) BalanceOf(ctx context.Context, holder string) (int64, error) {
	if holder == "" {
		return 0, nil
	}
	row, err := s.balances.FindOne(ctx, &Balance{HolderID: holder})
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return row.Balance, nil
}

func (s *Service) TotalSupply(ctx context.Context) (int64, error) {
	var state State
	if err := s.db.WithContext(ctx).Where("id = ?", stateRowID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return state.TotalSupply, nil
}

func (s *Service) Paused(ctx context.Context) (bool, error) {
	var state State
	if err := s.db.WithContext(ctx).Where("id = ?", stateRowID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return state.Paused, nil
}

func (s *Service) requireOwner(actor string) error {
	if actor == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}
	if actor != s.owner {
		return errutil.Forbidden("not the token owner", nil)
	}
	return nil
}

// loadState fetches the singleton policy row, creating it on first use.
func loadState(ctx context.Context, tx *gorm.DB) (*State, error) {
	var state State
	err := tx.WithContext(ctx).Where("id = ?", stateRowID).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	state = State{ID: stateRowID}
	if err := tx.WithContext(ctx).Create(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func credit(ctx context.Context, tx *gorm.DB, holder string, amount int64) error {
	var row Balance
	err := tx.WithContext(ctx).Where("holder_id = ?", holder).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.WithContext(ctx).Create(&Balance{HolderID: holder, Balance: amount}).Error
	}
	if err != nil {
		return err
	}
	if row.Balance > math.MaxInt64-amount {
		return errutil.UnprocessableEntity("balance overflow", nil)
	}

	return tx.WithContext(ctx).Model(&Balance{}).
		Where("holder_id = ?", holder).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

func recordDailySpend(ctx context.Context, tx *gorm.DB, holder string, amount, limit int64) error {
	day := spendDay(time.Now())

	var row DailySpend
	err := tx.WithContext(ctx).Where("holder_id = ? AND day = ?", holder, day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if amount > limit {
			return errutil.TooManyRequest("daily transfer limit exceeded", nil)
		}
		return tx.WithContext(ctx).Create(&DailySpend{HolderID: holder, Day: day, Spent: amount}).Error
	}
	if err != nil {
		return err
	}

	if row.Spent > limit-amount {
		return errutil.TooManyRequest("daily transfer limit exceeded", nil)
	}

	return tx.WithContext(ctx).Model(&DailySpend{}).
		Where("holder_id = ? AND day = ?", holder, day).
		Update("spent", gorm.Expr("spent + ?", amount)).Error
}
