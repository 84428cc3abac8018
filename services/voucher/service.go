package voucher

import (
	"context"
	"errors"
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

// Service owns the denomination set and the voucher lifecycle. A voucher
// moves from unredeemed to redeemed exactly once and never back.
type Service struct {
	db     *gorm.DB
	owner  string
	aesKey [32]byte

	vouchers repository.Repository[Voucher]
	denoms   repository.Repository[Denomination]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		owner:  p.Config.Voucher.Owner,
		aesKey: deriveKey(p.Config.Voucher.SecretAES),

		vouchers: repository.ProvideStore[Voucher](p.DB),
		denoms:   repository.ProvideStore[Denomination](p.DB),
	}
}

func (s *Service) AddDenomination(ctx context.Context, actor string, amount int64) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}
	if amount <= 0 {
		return errutil.BadRequest("denomination must be positive", nil)
	}

	exist, err := s.denoms.FindOne(ctx, &Denomination{Amount: amount})
	if err != nil {
		return err
	}
	if exist != nil {
		return errutil.Conflict("denomination already exists", nil)
	}

	if err := s.denoms.Create(ctx, &Denomination{Amount: amount}); err != nil {
		return err
	}

	zap.L().Info("denomination added", zap.Int64("amount", amount))
	return nil
}

func (s *Service) RemoveDenomination(ctx context.Context, actor string, amount int64) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		var denom Denomination
		if err := tx.WithContext(ctx).Where("amount = ?", amount).First(&denom).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("denomination not found", nil)
			}
			return err
		}

		var count int64
		if err := tx.WithContext(ctx).Model(&Denomination{}).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 {
			return errutil.UnprocessableEntity("cannot remove the last denomination", nil)
		}

		return tx.WithContext(ctx).Delete(&Denomination{}, "amount = ?", amount).Error
	})
}

func (s *Service) GetDenominations(ctx context.Context) ([]int64, error) {
	var rows []Denomination
	if err := s.db.WithContext(ctx).Order("amount ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(rows))
	for _, d := range rows {
		out = append(out, d.Amount)
	}
	return out, nil
}

func (s *Service) CreateVoucher(ctx context.Context, actor, code string, amount int64) error {
	return s.CreateVoucherBatch(ctx, actor, []string{code}, []int64{amount})
}

// CreateVoucherBatch validates the whole batch before any row is written:
// creation is all-or-nothing.
func (s *Service) CreateVoucherBatch(ctx context.Context, actor string, codes []string, amounts []int64) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.Int("count", len(codes)),
	)

	if err := s.requireOwner(actor); err != nil {
		return err
	}
	if len(codes) == 0 {
		return errutil.BadRequest("empty input", nil)
	}
	if len(codes) != len(amounts) {
		return errutil.BadRequest("codes and amounts length mismatch", nil)
	}

	allowed, err := s.GetDenominations(ctx)
	if err != nil {
		return err
	}
	allowedSet := make(map[int64]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}

	rows := make([]*Voucher, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for i, code := range codes {
		amount := amounts[i]
		if code == "" {
			return errutil.BadRequest("voucher code required", nil)
		}
		if amount <= 0 {
			return errutil.BadRequest("amount must be positive", nil)
		}
		if !allowedSet[amount] {
			return errutil.ValidationFailed("invalid denomination", nil)
		}

		hash := HashVoucherCode(code)
		if seen[hash] {
			return errutil.Conflict("voucher code already exists", nil)
		}
		seen[hash] = true

		exist, err := s.vouchers.FindOne(ctx, &Voucher{CodeHash: hash})
		if err != nil {
			return err
		}
		if exist != nil {
			return errutil.Conflict("voucher code already exists", nil)
		}

		enc, err := EncryptVoucherCode([]byte(code), s.aesKey)
		if err != nil {
			return errutil.Internal("failed to encrypt voucher code", err)
		}

		rows = append(rows, &Voucher{
			CodeHash: hash,
			CodeEnc:  enc,
			Amount:   amount,
		})
	}

	if err := s.vouchers.BatchCreate(ctx, rows); err != nil {
		zapLog.Error("failed to create vouchers", zap.Error(err))
		return err
	}

	zapLog.Info("vouchers created")
	return nil
}

// CheckVoucher reports whether the code resolves to an unredeemed voucher.
// It never returns an error; unknown, redeemed and unreadable codes are all
// simply invalid.
func (s *Service) CheckVoucher(ctx context.Context, code string) (bool, int64) {
	v, err := s.vouchers.FindOne(ctx, &Voucher{CodeHash: HashVoucherCode(code)})
	if err != nil || v == nil || v.Redeemed {
		return false, 0
	}
	return true, v.Amount
}

// Redeem marks the voucher redeemed and returns its amount, exactly once.
func (s *Service) Redeem(ctx context.Context, code, redeemer string) (int64, error) {
	var amount int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		amount, err = s.RedeemTx(ctx, tx, code, redeemer)
		return err
	})
	return amount, err
}

// RedeemTx is the composable variant for orchestrators that settle the
// redeemed value in the same transaction.
func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, code, redeemer string) (int64, error) {
	tx = tx.Scopes(option.LockingUpdate)
	hash := HashVoucherCode(code)

	var v Voucher
	if err := tx.WithContext(ctx).Where("code_hash = ?", hash).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errutil.NotFound("voucher does not exist", nil)
		}
		return 0, err
	}
	if v.Redeemed {
		return 0, errutil.Conflict("voucher already redeemed", nil)
	}

	now := time.Now()
	if err := tx.WithContext(ctx).Model(&Voucher{}).
		Where("code_hash = ?", hash).
		Updates(map[string]any{
			"redeemed":    true,
			"redeemed_by": redeemer,
			"redeemed_at": now,
		}).Error; err != nil {
		return 0, err
	}

	return v.Amount, nil
}

// RevealCode decrypts a stored voucher code for administrative recovery.
func (s *Service) RevealCode(ctx context.Context, actor, codeHash string) (string, error) {
	if err := s.requireOwner(actor); err != nil {
		return "", err
	}

	v, err := s.vouchers.FindOne(ctx, &Voucher{CodeHash: codeHash})
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", errutil.NotFound("voucher does not exist", nil)
	}

	return DecryptVoucherCode(v.CodeEnc, s.aesKey)
}

func (s *Service) requireOwner(actor string) error {
	if actor == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}
	if actor != s.owner {
		return errutil.Forbidden("not the voucher administrator", nil)
	}
	return nil
}
