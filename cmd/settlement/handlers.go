package main

import (
	"context"
	"encoding/json"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/services/multisig"
	"inclusivebank-settlement/services/settlement"
	"inclusivebank-settlement/services/token"
)

// Admin operations routed through the authorization gate. Handlers run with
// the configured owner identities, so no single caller can invoke them
// directly.
type adminHandlerParams struct {
	fx.In
	Config     *config.Config
	Dispatcher *multisig.Dispatcher
	Gate       *multisig.Service
	Tokens     *token.Service
	Settlement *settlement.Service
}

func registerAdminHandlers(p adminHandlerParams) {
	tokenOwner := p.Config.Token.Owner
	settlementOwner := p.Config.Settlement.Owner

	p.Dispatcher.Register("token.mint", func(ctx context.Context, _ int64, payload []byte) error {
		var req struct {
			To     string `json:"to"`
			Amount int64  `json:"amount"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return errutil.BadRequest("invalid mint payload", err)
		}
		return p.Tokens.Mint(ctx, tokenOwner, req.To, req.Amount)
	})

	p.Dispatcher.Register("token.set_paused", func(ctx context.Context, _ int64, payload []byte) error {
		var req struct {
			Paused bool `json:"paused"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return errutil.BadRequest("invalid pause payload", err)
		}
		return p.Tokens.SetPaused(ctx, tokenOwner, req.Paused)
	})

	p.Dispatcher.Register("token.set_daily_limit", func(ctx context.Context, _ int64, payload []byte) error {
		var req struct {
			Limit int64 `json:"limit"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return errutil.BadRequest("invalid daily limit payload", err)
		}
		return p.Tokens.SetDailyLimit(ctx, tokenOwner, req.Limit)
	})

	p.Dispatcher.Register("settlement.update_transfer_fee", func(ctx context.Context, value int64, _ []byte) error {
		return p.Settlement.UpdateTransferFee(ctx, settlementOwner, value)
	})

	p.Dispatcher.Register("settlement.update_withdrawal_fee", func(ctx context.Context, value int64, _ []byte) error {
		return p.Settlement.UpdateWithdrawalFee(ctx, settlementOwner, value)
	})

	p.Dispatcher.Register("settlement.update_user_status", func(ctx context.Context, _ int64, payload []byte) error {
		var req struct {
			UserID string `json:"user_id"`
			Active bool   `json:"active"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return errutil.BadRequest("invalid user status payload", err)
		}
		return p.Settlement.UpdateUserStatus(ctx, settlementOwner, req.UserID, req.Active)
	})

	zap.L().Info("authorization gate ready",
		zap.Int("threshold", p.Gate.Threshold()),
		zap.Int("owners", len(p.Config.Multisig.Owners)),
	)
}
