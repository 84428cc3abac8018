package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db/option"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/pkg/repository"
	"inclusivebank-settlement/services/token"
)

// Service is the M-of-N authorization gate. Privileged actions are proposed,
// confirmed by distinct owners, and executed only once the confirmation
// count reaches the threshold. Execution happens at most once per proposal.
type Service struct {
	db        *gorm.DB
	threshold int

	tokens     *token.Service
	dispatcher *Dispatcher

	owners        repository.Repository[Owner]
	proposals     repository.Repository[Proposal]
	confirmations repository.Repository[Confirmation]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Config     *config.Config
	Tokens     *token.Service
	Dispatcher *Dispatcher
}

func NewService(p ServiceParams) (*Service, error) {
	if err := ValidateOwnerSet(p.Config.Multisig.Owners, p.Config.Multisig.Threshold); err != nil {
		return nil, err
	}

	return &Service{
		db:        p.DB,
		threshold: p.Config.Multisig.Threshold,

		tokens:     p.Tokens,
		dispatcher: p.Dispatcher,

		owners:        repository.ProvideStore[Owner](p.DB),
		proposals:     repository.ProvideStore[Proposal](p.DB),
		confirmations: repository.ProvideStore[Confirmation](p.DB),
	}, nil
}

// ValidateOwnerSet enforces the construction invariants on the configured
// signing set.
func ValidateOwnerSet(owners []string, threshold int) error {
	if len(owners) == 0 {
		return errutil.BadRequest("owners required", nil)
	}
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		if o == "" {
			return errutil.BadRequest("invalid owner", nil)
		}
		if seen[o] {
			return errutil.BadRequest("owner not unique", nil)
		}
		seen[o] = true
	}
	if threshold <= 0 || threshold > len(owners) {
		return errutil.BadRequest("invalid number of required confirmations", nil)
	}
	return nil
}

// SubmitTransaction proposes a call to a registered admin target. The
// proposal starts with zero confirmations; the submitter confirms
// separately.
func (s *Service) SubmitTransaction(ctx context.Context, actor, target string, value int64, payload []byte) (int64, error) {
	if target == "" {
		return 0, errutil.BadRequest("target required", nil)
	}
	return s.submit(ctx, actor, &Proposal{
		Kind:    KindCall,
		Target:  target,
		Value:   value,
		Payload: payload,
	})
}

// SubmitTokenTransaction proposes a ledger transfer from a holder the gate
// controls, conventionally TreasuryID.
func (s *Service) SubmitTokenTransaction(ctx context.Context, actor, tokenTarget, to string, amount int64) (int64, error) {
	if tokenTarget == "" || to == "" {
		return 0, errutil.BadRequest("transfer endpoints required", nil)
	}
	if amount <= 0 {
		return 0, errutil.BadRequest("amount must be positive", nil)
	}
	return s.submit(ctx, actor, &Proposal{
		Kind:   KindToken,
		Target: tokenTarget,
		ToID:   to,
		Amount: amount,
	})
}

func (s *Service) submit(ctx context.Context, actor string, p *Proposal) (int64, error) {
	if err := s.requireOwner(ctx, actor); err != nil {
		return 0, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Idx is dense and arrival ordered. A concurrent submit racing for
		// the same index fails on the primary key and can be retried.
		var count int64
		if err := tx.WithContext(ctx).Model(&Proposal{}).Count(&count).Error; err != nil {
			return err
		}

		p.Idx = count
		p.CreatedBy = actor
		return tx.WithContext(ctx).Create(p).Error
	})
	if err != nil {
		return 0, err
	}

	span := trace.SpanFromContext(ctx)
	zap.L().Info("proposal submitted",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.Int64("idx", p.Idx),
		zap.String("kind", p.Kind),
		zap.String("target", p.Target),
	)
	return p.Idx, nil
}

// ConfirmTransaction records the actor's approval. One confirmation per
// owner per proposal.
func (s *Service) ConfirmTransaction(ctx context.Context, actor string, idx int64) error {
	if err := s.requireOwner(ctx, actor); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		p, err := s.loadProposal(ctx, tx.Scopes(option.LockingUpdate), idx)
		if err != nil {
			return err
		}
		if p.Executed {
			return errutil.Conflict("transaction already executed", nil)
		}

		var existing Confirmation
		err = tx.WithContext(ctx).
			Where("idx = ? AND owner_id = ?", idx, actor).
			First(&existing).Error
		if err == nil {
			return errutil.Conflict("transaction already confirmed", nil)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return s.confirmations.WithTrx(tx).Create(ctx, &Confirmation{Idx: idx, OwnerID: actor})
	})
}

// RevokeConfirmation withdraws the actor's approval while the proposal is
// still pending.
func (s *Service) RevokeConfirmation(ctx context.Context, actor string, idx int64) error {
	if err := s.requireOwner(ctx, actor); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		p, err := s.loadProposal(ctx, tx.Scopes(option.LockingUpdate), idx)
		if err != nil {
			return err
		}
		if p.Executed {
			return errutil.Conflict("transaction already executed", nil)
		}

		res := tx.WithContext(ctx).
			Where("idx = ? AND owner_id = ?", idx, actor).
			Delete(&Confirmation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("transaction not confirmed", nil)
		}
		return nil
	})
}

// ExecuteTransaction runs a sufficiently confirmed proposal. A failed
// execution leaves the proposal pending so it can be retried.
func (s *Service) ExecuteTransaction(ctx context.Context, actor string, idx int64) error {
	if err := s.requireOwner(ctx, actor); err != nil {
		return err
	}

	p, err := s.loadProposal(ctx, s.db, idx)
	if err != nil {
		return err
	}
	if p.Executed {
		return errutil.Conflict("transaction already executed", nil)
	}

	confirmed, err := s.confirmationCount(ctx, s.db, idx)
	if err != nil {
		return err
	}
	if confirmed < int64(s.threshold) {
		return errutil.UnprocessableEntity("cannot execute transaction", nil)
	}

	switch p.Kind {
	case KindToken:
		// The transfer and the executed flag commit together.
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.tokens.TransferTx(ctx, tx, p.Target, p.ToID, p.Amount); err != nil {
				return err
			}
			return s.markExecuted(ctx, tx, idx)
		})
	case KindCall:
		// Handlers own their transactionality, so the flag cannot commit
		// with the call. Marking first means a failure between the two
		// leaves a stuck executed proposal rather than a re-runnable
		// privileged action; a handler failure rolls the flag back so the
		// proposal stays retryable.
		if err = s.markExecuted(ctx, s.db, idx); err == nil {
			if err = s.dispatcher.dispatch(ctx, p.Target, p.Value, p.Payload); err != nil {
				if rollbackErr := s.markPending(ctx, idx); rollbackErr != nil {
					zap.L().Error("failed to reopen proposal after handler failure",
						zap.Int64("idx", idx), zap.Error(rollbackErr))
				}
			}
		}
	default:
		err = errutil.Internal(fmt.Sprintf("unknown proposal kind %q", p.Kind), nil)
	}
	if err != nil {
		zap.L().Error("proposal execution failed", zap.Int64("idx", idx), zap.Error(err))
		return err
	}

	zap.L().Info("proposal executed", zap.Int64("idx", idx), zap.String("kind", p.Kind))
	return nil
}

func (s *Service) markExecuted(ctx context.Context, tx *gorm.DB, idx int64) error {
	now := time.Now().UTC()
	res := tx.WithContext(ctx).Model(&Proposal{}).
		Where("idx = ? AND executed = ?", idx, false).
		Updates(map[string]any{"executed": true, "executed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("transaction already executed", nil)
	}
	return nil
}

func (s *Service) markPending(ctx context.Context, idx int64) error {
	return s.db.WithContext(ctx).Model(&Proposal{}).
		Where("idx = ? AND executed = ?", idx, true).
		Updates(map[string]any{"executed": false, "executed_at": nil}).Error
}

func (s *Service) GetOwners(ctx context.Context) ([]string, error) {
	var rows []Owner
	if err := s.db.WithContext(ctx).Order("created_at ASC, owner_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for _, o := range rows {
		out = append(out, o.ID)
	}
	return out, nil
}

// GetTransaction returns the proposal and its current confirmation count.
func (s *Service) GetTransaction(ctx context.Context, idx int64) (*Proposal, int64, error) {
	p, err := s.loadProposal(ctx, s.db, idx)
	if err != nil {
		return nil, 0, err
	}
	confirmed, err := s.confirmationCount(ctx, s.db, idx)
	if err != nil {
		return nil, 0, err
	}
	return p, confirmed, nil
}

func (s *Service) TransactionCount(ctx context.Context) (int64, error) {
	return s.proposals.Count(ctx, &Proposal{})
}

// IsConfirmed queries by explicit predicate because idx 0 is a valid index
// that a struct query would drop as a zero value.
func (s *Service) IsConfirmed(ctx context.Context, idx int64, owner string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Confirmation{}).
		Where("idx = ? AND owner_id = ?", idx, owner).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) Threshold() int { return s.threshold }

func (s *Service) loadProposal(ctx context.Context, tx *gorm.DB, idx int64) (*Proposal, error) {
	var p Proposal
	if err := tx.WithContext(ctx).Where("idx = ?", idx).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("transaction does not exist", nil)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) confirmationCount(ctx context.Context, tx *gorm.DB, idx int64) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Confirmation{}).Where("idx = ?", idx).Count(&count).Error
	return count, err
}

func (s *Service) requireOwner(ctx context.Context, actor string) error {
	if actor == "" {
		return errutil.Unauthorized("missing acting party", nil)
	}

	o, err := s.owners.FindOne(ctx, &Owner{ID: actor})
	if err != nil {
		return err
	}
	if o == nil {
		return errutil.Forbidden("not an owner", nil)
	}
	return nil
}
