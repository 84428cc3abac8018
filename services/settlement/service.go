package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db/option"
	"inclusivebank-settlement/pkg/db/pagination"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/pkg/repository"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

// Service is the settlement ledger: user registry, fee policy and the
// append-only hash-chained transaction log. Value movement is delegated to
// the token ledger; both sides of every settlement commit in one database
// transaction.
type Service struct {
	db    *gorm.DB
	owner string
	node  *snowflake.Node

	tokens   *token.Service
	vouchers *voucher.Service

	users   repository.Repository[User]
	records repository.Repository[TransactionRecord]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Node     *snowflake.Node
	Tokens   *token.Service
	Vouchers *voucher.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		owner: p.Config.Settlement.Owner,
		node:  p.Node,

		tokens:   p.Tokens,
		vouchers: p.Vouchers,

		users:   repository.ProvideStore[User](p.DB),
		records: repository.ProvideStore[TransactionRecord](p.DB),
	}
}

// RegisterUser enrolls the acting party. Registration is keyed by the actor
// itself; a second attempt is rejected, never merged.
func (s *Service) RegisterUser(ctx context.Context, actor, name, location string) error {
	if actor == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}
	if name == "" {
		return errutil.BadRequest("name required", nil)
	}

	exist, err := s.users.FindOne(ctx, &User{ID: actor})
	if err != nil {
		return err
	}
	if exist != nil {
		return errutil.Conflict("user already registered", nil)
	}

	user := &User{
		ID:       actor,
		Name:     name,
		Location: location,
		Active:   true,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return err
	}

	zap.L().Info("user registered", zap.String("user_id", actor))
	return nil
}

// Deposit moves the actor's tokens into pool custody and logs it. No fee.
func (s *Service) Deposit(ctx context.Context, actor string, amount int64) (*TransactionRecord, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var record *TransactionRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, actor); err != nil {
			return err
		}
		if err := s.tokens.TransferTx(ctx, tx, actor, PoolID, amount); err != nil {
			return err
		}

		var err error
		record, err = s.appendRecord(ctx, tx, KindDeposit, actor, PoolID, amount, 0, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logSettled(ctx, record)
	return record, nil
}

// Withdraw releases custody back to the actor net of the withdrawal fee. The
// record keeps the gross amount; the fee stays in the pool.
func (s *Service) Withdraw(ctx context.Context, actor string, amount int64) (*TransactionRecord, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var record *TransactionRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, actor); err != nil {
			return err
		}

		fees, err := loadFees(ctx, tx.Scopes(option.LockingUpdate))
		if err != nil {
			return err
		}
		fee, err := feeFor(amount, fees.WithdrawalFeeBps)
		if err != nil {
			return err
		}

		if net := amount - fee; net > 0 {
			if err := s.tokens.TransferTx(ctx, tx, PoolID, actor, net); err != nil {
				return err
			}
		}

		record, err = s.appendRecord(ctx, tx, KindWithdrawal, PoolID, actor, amount, fee, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logSettled(ctx, record)
	return record, nil
}

// Transfer moves value between registered users. The recipient gets the
// amount net of the transfer fee; the fee moves to the pool in the same
// transaction.
func (s *Service) Transfer(ctx context.Context, actor, to string, amount int64) (*TransactionRecord, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if to == "" {
		return nil, errutil.BadRequest("recipient required", nil)
	}

	var record *TransactionRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, actor); err != nil {
			return err
		}
		if err := s.requireActive(ctx, tx, to); err != nil {
			return err
		}

		fees, err := loadFees(ctx, tx.Scopes(option.LockingUpdate))
		if err != nil {
			return err
		}
		fee, err := feeFor(amount, fees.TransferFeeBps)
		if err != nil {
			return err
		}

		if net := amount - fee; net > 0 {
			if err := s.tokens.TransferTx(ctx, tx, actor, to, net); err != nil {
				return err
			}
		}
		if fee > 0 {
			if err := s.tokens.TransferTx(ctx, tx, actor, PoolID, fee); err != nil {
				return err
			}
		}

		record, err = s.appendRecord(ctx, tx, KindTransfer, actor, to, amount, fee, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logSettled(ctx, record)
	return record, nil
}

// RedeemVoucher burns the voucher in the registry and pays its value from
// pool float to the actor, in one transaction. The record's origin is the
// zero identity because value arrives from outside the user set.
func (s *Service) RedeemVoucher(ctx context.Context, actor, code string) (*TransactionRecord, error) {
	if code == "" {
		return nil, errutil.BadRequest("voucher code required", nil)
	}

	var record *TransactionRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, actor); err != nil {
			return err
		}

		amount, err := s.vouchers.RedeemTx(ctx, tx, code, actor)
		if err != nil {
			return err
		}
		if err := s.tokens.TransferTx(ctx, tx, PoolID, actor, amount); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{
			"voucher_code_hash": voucher.HashVoucherCode(code),
		})
		record, err = s.appendRecord(ctx, tx, KindVoucherRedemption, "", actor, amount, 0, meta)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logSettled(ctx, record)
	return record, nil
}

// UpdateTransferFee sets the transfer fee in basis points. Owner only.
func (s *Service) UpdateTransferFee(ctx context.Context, actor string, bps int64) error {
	return s.updateFee(ctx, actor, "transfer_fee_bps", bps)
}

// UpdateWithdrawalFee sets the withdrawal fee in basis points. Owner only.
func (s *Service) UpdateWithdrawalFee(ctx context.Context, actor string, bps int64) error {
	return s.updateFee(ctx, actor, "withdrawal_fee_bps", bps)
}

func (s *Service) updateFee(ctx context.Context, actor, column string, bps int64) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}
	if bps < 0 || bps > bpsDenominator {
		return errutil.BadRequest("fee must be between 0 and 10000 basis points", nil)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadFees(ctx, tx.Scopes(option.LockingUpdate)); err != nil {
			return err
		}
		return tx.WithContext(ctx).Model(&FeeSchedule{}).
			Where("id = ?", feeScheduleRowID).
			Update(column, bps).Error
	})
	if err != nil {
		return err
	}

	zap.L().Info("fee schedule updated", zap.String("fee", column), zap.Int64("bps", bps))
	return nil
}

// UpdateUserStatus activates or suspends a user. Owner only. Suspended users
// keep their balance but cannot settle.
func (s *Service) UpdateUserStatus(ctx context.Context, actor, userID string, active bool) error {
	if err := s.requireOwner(actor); err != nil {
		return err
	}

	exist, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return err
	}
	if exist == nil {
		return errutil.NotFound("user not registered", nil)
	}

	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Update("active", active).Error; err != nil {
		return err
	}

	zap.L().Info("user status updated", zap.String("user_id", userID), zap.Bool("active", active))
	return nil
}

func (s *Service) GetUserProfile(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, errutil.NotFound("user not registered", nil)
	}
	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not registered", nil)
	}
	return user, nil
}

func (s *Service) IsRegistered(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// Fees returns the current (transfer, withdrawal) basis points.
func (s *Service) Fees(ctx context.Context) (int64, int64, error) {
	fees, err := loadFees(ctx, s.db)
	if err != nil {
		return 0, 0, err
	}
	return fees.TransferFeeBps, fees.WithdrawalFeeBps, nil
}

// GetTransaction returns the log entry at the given position, 0-based in
// append order.
func (s *Service) GetTransaction(ctx context.Context, index int64) (*TransactionRecord, error) {
	if index < 0 {
		return nil, errutil.BadRequest("index must not be negative", nil)
	}

	var record TransactionRecord
	err := s.db.WithContext(ctx).
		Order("seq ASC").
		Offset(int(index)).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("transaction does not exist", nil)
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) TransactionCount(ctx context.Context) (int64, error) {
	return s.records.Count(ctx, &TransactionRecord{})
}

// ListTransactions pages the log forward from an opaque cursor, oldest
// first.
func (s *Service) ListTransactions(ctx context.Context, p pagination.Pagination) ([]*TransactionRecord, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy: "seq",
			Allow:  map[string]bool{"seq": true},
		}),
		option.WithLimit(limit + 1),
	}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		seq, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "seq",
			Operator: option.GT,
			Value:    seq,
		}))
	}

	records, err := s.records.Find(ctx, &TransactionRecord{}, opts...)
	if err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(records, int32(limit), func(r *TransactionRecord) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(r.Seq, 10)})
		return cursor
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, pageInfo, nil
}

// VerifyChain replays the whole log and checks every link and every stored
// hash.
func (s *Service) VerifyChain(ctx context.Context) error {
	var records []TransactionRecord
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&records).Error; err != nil {
		return err
	}

	prev := ""
	for i := range records {
		if err := verifyRecord(&records[i], prev); err != nil {
			return errutil.UnprocessableEntity("transaction log integrity violation", err)
		}
		prev = records[i].Hash
	}
	return nil
}

// appendRecord links and hashes a new log entry. The caller's transaction
// holds the lock on the tail, so two settlements cannot chain off the same
// predecessor.
func (s *Service) appendRecord(ctx context.Context, tx *gorm.DB, kind, from, to string, amount, fee int64, metadata []byte) (*TransactionRecord, error) {
	var last TransactionRecord
	prevHash := ""
	err := tx.WithContext(ctx).Scopes(option.LockingUpdate).
		Order("seq DESC").
		First(&last).Error
	if err == nil {
		prevHash = last.Hash
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record := &TransactionRecord{
		ReferenceCode: "TXN-" + s.node.Generate().String(),
		Kind:          kind,
		FromID:        from,
		ToID:          to,
		Amount:        amount,
		Fee:           fee,
		Metadata:      metadata,
		PreviousHash:  prevHash,
		CreatedAt:     time.Now().UTC(),
	}
	record.Hash = recordHash(record)

	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) requireActive(ctx context.Context, tx *gorm.DB, userID string) error {
	if userID == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}

	var user User
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("user not registered", nil)
		}
		return err
	}
	if !user.Active {
		return errutil.UnprocessableEntity("account inactive", nil)
	}
	return nil
}

func (s *Service) requireOwner(actor string) error {
	if actor == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}
	if actor != s.owner {
		return errutil.Forbidden("not the settlement administrator", nil)
	}
	return nil
}

func (s *Service) logSettled(ctx context.Context, r *TransactionRecord) {
	span := trace.SpanFromContext(ctx)
	zap.L().Info("transaction settled",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("reference_code", r.ReferenceCode),
		zap.String("kind", r.Kind),
		zap.Int64("amount", r.Amount),
		zap.Int64("fee", r.Fee),
	)
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return errutil.BadRequest("amount must be positive", nil)
	}
	return nil
}

// loadFees fetches the singleton fee row, creating it with defaults on first
// use.
func loadFees(ctx context.Context, tx *gorm.DB) (*FeeSchedule, error) {
	var fees FeeSchedule
	err := tx.WithContext(ctx).Where("id = ?", feeScheduleRowID).First(&fees).Error
	if err == nil {
		return &fees, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fees = FeeSchedule{
		ID:               feeScheduleRowID,
		TransferFeeBps:   DefaultTransferFeeBps,
		WithdrawalFeeBps: DefaultWithdrawalFeeBps,
	}
	if err := tx.WithContext(ctx).Create(&fees).Error; err != nil {
		return nil, err
	}
	return &fees, nil
}
