package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inclusivebank-settlement/pkg/config"
	"inclusivebank-settlement/pkg/db/pagination"
	"inclusivebank-settlement/pkg/errutil"
	"inclusivebank-settlement/services/testutil"
	"inclusivebank-settlement/services/token"
	"inclusivebank-settlement/services/voucher"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type harness struct {
	svc      *Service
	tokens   *token.Service
	vouchers *voucher.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	models := append(token.Models(), voucher.Models()...)
	models = append(models, Models()...)
	db := testutil.NewTestDB(t, models...)

	cfg := &config.Config{}
	cfg.Token.Owner = "owner"
	cfg.Voucher.Owner = "owner"
	cfg.Voucher.SecretAES = "test-secret"
	cfg.Settlement.Owner = "owner"

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tokens := token.NewService(token.ServiceParams{DB: db, Config: cfg})
	vouchers := voucher.NewService(voucher.ServiceParams{DB: db, Config: cfg})
	svc := NewService(ServiceParams{
		DB:       db,
		Config:   cfg,
		Node:     node,
		Tokens:   tokens,
		Vouchers: vouchers,
	})

	return &harness{svc: svc, tokens: tokens, vouchers: vouchers}
}

func (h *harness) fund(t *testing.T, holder string, amount int64) {
	t.Helper()
	require.NoError(t, h.tokens.Mint(context.Background(), "owner", holder, amount))
}

func (h *harness) register(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, h.svc.RegisterUser(context.Background(), id, name, "Lagos"))
}

func (h *harness) balance(t *testing.T, holder string) int64 {
	t.Helper()
	balance, err := h.tokens.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return balance
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, want, be.Status())
}

func TestRegisterUserOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")

	err := h.svc.RegisterUser(ctx, "alice", "Alice Again", "Accra")
	requireStatus(t, err, errutil.StatusConflict)

	registered, err := h.svc.IsRegistered(ctx, "alice")
	require.NoError(t, err)
	require.True(t, registered)

	profile, err := h.svc.GetUserProfile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", profile.Name)
	require.Equal(t, "Lagos", profile.Location)
	require.True(t, profile.Active)
}

func TestRegisterUserValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requireStatus(t, h.svc.RegisterUser(ctx, "", "Nobody", ""), errutil.StatusUnauthorized)
	requireStatus(t, h.svc.RegisterUser(ctx, "alice", "", ""), errutil.StatusBadRequest)
}

func TestDepositMovesFloatToPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.fund(t, "alice", 1000)

	record, err := h.svc.Deposit(ctx, "alice", 200)
	require.NoError(t, err)
	require.Equal(t, KindDeposit, record.Kind)
	require.Equal(t, "alice", record.FromID)
	require.Equal(t, PoolID, record.ToID)
	require.Equal(t, int64(200), record.Amount)
	require.Zero(t, record.Fee)

	require.Equal(t, int64(800), h.balance(t, "alice"))
	require.Equal(t, int64(200), h.balance(t, PoolID))
}

func TestDepositRequiresActiveUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Deposit(ctx, "ghost", 100)
	requireStatus(t, err, errutil.StatusNotFound)

	h.register(t, "alice", "Alice")
	h.fund(t, "alice", 500)
	require.NoError(t, h.svc.UpdateUserStatus(ctx, "owner", "alice", false))

	_, err = h.svc.Deposit(ctx, "alice", 100)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	require.NoError(t, h.svc.UpdateUserStatus(ctx, "owner", "alice", true))
	_, err = h.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)
}

func TestWithdrawTakesFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.fund(t, PoolID, 10000)

	// 100 bps default: withdraw 1000 nets 990.
	record, err := h.svc.Withdraw(ctx, "alice", 1000)
	require.NoError(t, err)
	require.Equal(t, KindWithdrawal, record.Kind)
	require.Equal(t, int64(1000), record.Amount)
	require.Equal(t, int64(10), record.Fee)

	require.Equal(t, int64(990), h.balance(t, "alice"))
	require.Equal(t, int64(9010), h.balance(t, PoolID))
}

func TestTransferTakesFeeIntoPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.register(t, "bob", "Bob")
	h.fund(t, "alice", 1000)

	// 50 bps default: transfer 300 costs a fee of 1.
	record, err := h.svc.Transfer(ctx, "alice", "bob", 300)
	require.NoError(t, err)
	require.Equal(t, KindTransfer, record.Kind)
	require.Equal(t, int64(300), record.Amount)
	require.Equal(t, int64(1), record.Fee)

	require.Equal(t, int64(700), h.balance(t, "alice"))
	require.Equal(t, int64(299), h.balance(t, "bob"))
	require.Equal(t, int64(1), h.balance(t, PoolID))

	supply, err := h.tokens.TotalSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), supply)
}

func TestTransferRequiresActiveRecipient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.fund(t, "alice", 1000)

	_, err := h.svc.Transfer(ctx, "alice", "ghost", 100)
	requireStatus(t, err, errutil.StatusNotFound)

	h.register(t, "bob", "Bob")
	require.NoError(t, h.svc.UpdateUserStatus(ctx, "owner", "bob", false))

	_, err = h.svc.Transfer(ctx, "alice", "bob", 100)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestTransferInsufficientBalanceRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.register(t, "bob", "Bob")
	h.fund(t, "alice", 50)

	_, err := h.svc.Transfer(ctx, "alice", "bob", 500)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	require.Equal(t, int64(50), h.balance(t, "alice"))
	require.Zero(t, h.balance(t, "bob"))

	count, err := h.svc.TransactionCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUpdateFees(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requireStatus(t, h.svc.UpdateTransferFee(ctx, "mallory", 10), errutil.StatusForbidden)
	requireStatus(t, h.svc.UpdateTransferFee(ctx, "owner", 10001), errutil.StatusBadRequest)
	requireStatus(t, h.svc.UpdateWithdrawalFee(ctx, "owner", -1), errutil.StatusBadRequest)

	require.NoError(t, h.svc.UpdateTransferFee(ctx, "owner", 200))
	require.NoError(t, h.svc.UpdateWithdrawalFee(ctx, "owner", 0))

	transferBps, withdrawalBps, err := h.svc.Fees(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(200), transferBps)
	require.Zero(t, withdrawalBps)

	h.register(t, "alice", "Alice")
	h.fund(t, PoolID, 1000)

	record, err := h.svc.Withdraw(ctx, "alice", 500)
	require.NoError(t, err)
	require.Zero(t, record.Fee)
	require.Equal(t, int64(500), h.balance(t, "alice"))
}

func TestRedeemVoucherPaysFromPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.vouchers.AddDenomination(ctx, "owner", 50))
	require.NoError(t, h.vouchers.CreateVoucher(ctx, "owner", "GIFT-CODE-2345", 50))

	h.register(t, "alice", "Alice")
	h.fund(t, PoolID, 1000)

	record, err := h.svc.RedeemVoucher(ctx, "alice", "GIFT-CODE-2345")
	require.NoError(t, err)
	require.Equal(t, KindVoucherRedemption, record.Kind)
	require.Empty(t, record.FromID)
	require.Equal(t, "alice", record.ToID)
	require.Equal(t, int64(50), record.Amount)
	require.Zero(t, record.Fee)

	require.Equal(t, int64(50), h.balance(t, "alice"))
	require.Equal(t, int64(950), h.balance(t, PoolID))

	_, err = h.svc.RedeemVoucher(ctx, "alice", "GIFT-CODE-2345")
	requireStatus(t, err, errutil.StatusConflict)
	require.Equal(t, int64(50), h.balance(t, "alice"))
}

func TestTransactionLogOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.register(t, "bob", "Bob")
	h.fund(t, "alice", 1000)

	_, err := h.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)
	_, err = h.svc.Transfer(ctx, "alice", "bob", 300)
	require.NoError(t, err)

	count, err := h.svc.TransactionCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	first, err := h.svc.GetTransaction(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, KindDeposit, first.Kind)

	second, err := h.svc.GetTransaction(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, KindTransfer, second.Kind)
	require.Equal(t, first.Hash, second.PreviousHash)

	_, err = h.svc.GetTransaction(ctx, 2)
	requireStatus(t, err, errutil.StatusNotFound)
	_, err = h.svc.GetTransaction(ctx, -1)
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestListTransactionsCursorPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.fund(t, "alice", 1000)
	for i := 0; i < 5; i++ {
		_, err := h.svc.Deposit(ctx, "alice", 10)
		require.NoError(t, err)
	}

	page, info, err := h.svc.ListTransactions(ctx, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := h.svc.ListTransactions(ctx, pagination.Pagination{Limit: 10, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.False(t, info.HasMore)
	require.Greater(t, rest[0].Seq, page[1].Seq)

	_, _, err = h.svc.ListTransactions(ctx, pagination.Pagination{Cursor: "not-base64!"})
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice", "Alice")
	h.fund(t, "alice", 1000)

	_, err := h.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)
	_, err = h.svc.Deposit(ctx, "alice", 200)
	require.NoError(t, err)

	require.NoError(t, h.svc.VerifyChain(ctx))

	err = h.svc.db.Exec("UPDATE settlement_transactions SET amount = 999 WHERE seq = (SELECT MIN(seq) FROM settlement_transactions)").Error
	require.NoError(t, err)

	requireStatus(t, h.svc.VerifyChain(ctx), errutil.StatusUnprocessableEntity)
}
