package multisig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/services/testutil"
	"inclusivebank-settlement/services/token"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type harness struct {
	svc        *Service
	tokens     *token.Service
	dispatcher *Dispatcher
}

// newHarness builds a 2-of-3 gate with owners a, b, c.
func newHarness(t *testing.T) *harness {
	t.Helper()

	models := append(token.Models(), Models()...)
	db := testutil.NewTestDB(t, models...)

	cfg := &config.Config{}
	cfg.Token.Owner = "owner"
	cfg.Multisig.Owners = []string{"a", "b", "c"}
	cfg.Multisig.Threshold = 2

	for _, id := range cfg.Multisig.Owners {
		require.NoError(t, db.Create(&Owner{ID: id}).Error)
	}

	tokens := token.NewService(token.ServiceParams{DB: db, Config: cfg})
	dispatcher := NewDispatcher()
	svc, err := NewService(ServiceParams{
		DB:         db,
		Config:     cfg,
		Tokens:     tokens,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)

	return &harness{svc: svc, tokens: tokens, dispatcher: dispatcher}
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, want, be.Status())
}

func TestValidateOwnerSet(t *testing.T) {
	cases := []struct {
		name      string
		owners    []string
		threshold int
	}{
		{"no owners", nil, 1},
		{"empty owner", []string{"a", ""}, 1},
		{"duplicate owner", []string{"a", "a"}, 1},
		{"zero threshold", []string{"a", "b"}, 0},
		{"threshold above owner count", []string{"a", "b"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireStatus(t, ValidateOwnerSet(tc.owners, tc.threshold), errutil.StatusBadRequest)
		})
	}

	require.NoError(t, ValidateOwnerSet([]string{"a", "b", "c"}, 3))
}

func TestTokenProposalLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.tokens.Mint(ctx, "owner", TreasuryID, 1000))

	idx, err := h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "dest", 250)
	require.NoError(t, err)
	require.Zero(t, idx)

	// Below threshold.
	requireStatus(t, h.svc.ExecuteTransaction(ctx, "a", idx), errutil.StatusUnprocessableEntity)

	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	requireStatus(t, h.svc.ExecuteTransaction(ctx, "a", idx), errutil.StatusUnprocessableEntity)
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "b", idx))

	confirmed, err := h.svc.IsConfirmed(ctx, idx, "b")
	require.NoError(t, err)
	require.True(t, confirmed)

	require.NoError(t, h.svc.ExecuteTransaction(ctx, "c", idx))

	balance, err := h.tokens.BalanceOf(ctx, "dest")
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)

	p, confirmations, err := h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.True(t, p.Executed)
	require.NotNil(t, p.ExecutedAt)
	require.Equal(t, int64(2), confirmations)

	requireStatus(t, h.svc.ExecuteTransaction(ctx, "a", idx), errutil.StatusConflict)
	requireStatus(t, h.svc.ConfirmTransaction(ctx, "c", idx), errutil.StatusConflict)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitTransaction(ctx, "mallory", "token.set_paused", 0, nil)
	requireStatus(t, err, errutil.StatusForbidden)

	_, err = h.svc.SubmitTransaction(ctx, "", "token.set_paused", 0, nil)
	requireStatus(t, err, errutil.StatusUnauthorized)

	_, err = h.svc.SubmitTransaction(ctx, "a", "", 0, nil)
	requireStatus(t, err, errutil.StatusBadRequest)

	_, err = h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "dest", 0)
	requireStatus(t, err, errutil.StatusBadRequest)

	_, err = h.svc.SubmitTokenTransaction(ctx, "a", "", "dest", 10)
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestProposalIndicesAreArrivalOrdered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "x", 10)
	require.NoError(t, err)
	second, err := h.svc.SubmitTokenTransaction(ctx, "b", TreasuryID, "y", 20)
	require.NoError(t, err)

	require.Equal(t, int64(0), first)
	require.Equal(t, int64(1), second)

	count, err := h.svc.TransactionCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestConfirmationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requireStatus(t, h.svc.ConfirmTransaction(ctx, "a", 99), errutil.StatusNotFound)

	idx, err := h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "dest", 10)
	require.NoError(t, err)

	requireStatus(t, h.svc.ConfirmTransaction(ctx, "mallory", idx), errutil.StatusForbidden)

	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	requireStatus(t, h.svc.ConfirmTransaction(ctx, "a", idx), errutil.StatusConflict)
}

func TestRevokeConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	idx, err := h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "dest", 10)
	require.NoError(t, err)

	requireStatus(t, h.svc.RevokeConfirmation(ctx, "a", idx), errutil.StatusConflict)

	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	require.NoError(t, h.svc.RevokeConfirmation(ctx, "a", idx))

	confirmed, err := h.svc.IsConfirmed(ctx, idx, "a")
	require.NoError(t, err)
	require.False(t, confirmed)
}

func TestExecutionFailureLeavesProposalPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Treasury is empty, so the transfer fails.
	idx, err := h.svc.SubmitTokenTransaction(ctx, "a", TreasuryID, "dest", 500)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "b", idx))

	requireStatus(t, h.svc.ExecuteTransaction(ctx, "a", idx), errutil.StatusUnprocessableEntity)

	p, _, err := h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.False(t, p.Executed)

	// Funding the treasury makes the retry succeed.
	require.NoError(t, h.tokens.Mint(ctx, "owner", TreasuryID, 1000))
	require.NoError(t, h.svc.ExecuteTransaction(ctx, "a", idx))

	balance, err := h.tokens.BalanceOf(ctx, "dest")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}

func TestCallProposalDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var gotValue int64
	var gotPayload []byte
	h.dispatcher.Register("settlement.update_transfer_fee", func(_ context.Context, value int64, payload []byte) error {
		gotValue = value
		gotPayload = payload
		return nil
	})

	idx, err := h.svc.SubmitTransaction(ctx, "a", "settlement.update_transfer_fee", 75, []byte(`{"reason":"promo"}`))
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "c", idx))

	require.NoError(t, h.svc.ExecuteTransaction(ctx, "b", idx))
	require.Equal(t, int64(75), gotValue)
	require.JSONEq(t, `{"reason":"promo"}`, string(gotPayload))

	p, _, err := h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.True(t, p.Executed)
}

func TestCallProposalRetryableAfterHandlerFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	calls := 0
	h.dispatcher.Register("token.set_paused", func(context.Context, int64, []byte) error {
		calls++
		if calls == 1 {
			return errutil.Internal("downstream unavailable", nil)
		}
		return nil
	})

	idx, err := h.svc.SubmitTransaction(ctx, "a", "token.set_paused", 0, []byte(`{"paused":true}`))
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "b", idx))

	requireStatus(t, h.svc.ExecuteTransaction(ctx, "c", idx), errutil.StatusInternal)

	p, _, err := h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.False(t, p.Executed)
	require.Nil(t, p.ExecutedAt)

	require.NoError(t, h.svc.ExecuteTransaction(ctx, "c", idx))
	require.Equal(t, 2, calls)

	p, _, err = h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.True(t, p.Executed)
}

func TestCallProposalWithoutHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	idx, err := h.svc.SubmitTransaction(ctx, "a", "unknown.target", 0, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "a", idx))
	require.NoError(t, h.svc.ConfirmTransaction(ctx, "b", idx))

	requireStatus(t, h.svc.ExecuteTransaction(ctx, "a", idx), errutil.StatusNotImplemented)

	p, _, err := h.svc.GetTransaction(ctx, idx)
	require.NoError(t, err)
	require.False(t, p.Executed)
}

func TestGetOwners(t *testing.T) {
	h := newHarness(t)

	owners, err := h.svc.GetOwners(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, owners)
	require.Equal(t, 2, h.svc.Threshold())
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	cfg := &config.Config{}
	cfg.Multisig.Owners = []string{"a", "a"}
	cfg.Multisig.Threshold = 1

	_, err := NewService(ServiceParams{DB: db, Config: cfg, Dispatcher: NewDispatcher()})
	requireStatus(t, err, errutil.StatusBadRequest)
}
