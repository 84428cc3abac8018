package settlement

import (
	"math"
	"time"

	"gorm.io/datatypes"

	"inclusivebank-settlement/pkg/errutil"
)

// PoolID is the ledger holder that custodies deposited float, voucher float
// and collected fees.
const PoolID = "settlement:pool"

// Record kinds. Closed set; nothing else may be appended.
const (
	KindDeposit           = "deposit"
	KindWithdrawal        = "withdrawal"
	KindTransfer          = "transfer"
	KindVoucherRedemption = "voucher_redemption"
)

// User is a registered settlement participant. The ID doubles as the token
// ledger holder ID.
type User struct {
	ID        string    `gorm:"column:user_id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Location  string    `gorm:"column:location"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	JoinedAt  time.Time `gorm:"column:joined_at"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "settlement_users" }

// TransactionRecord is one append-only log entry. Seq orders the log; each
// entry carries the hash of its predecessor so tampering anywhere breaks
// every later hash.
type TransactionRecord struct {
	Seq           int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	ReferenceCode string         `gorm:"column:reference_code;uniqueIndex;not null"`
	Kind          string         `gorm:"column:kind;not null"`
	FromID        string         `gorm:"column:from_id"`
	ToID          string         `gorm:"column:to_id"`
	Amount        int64          `gorm:"column:amount;not null"`
	Fee           int64          `gorm:"column:fee;not null"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	PreviousHash  string         `gorm:"column:previous_hash"`
	Hash          string         `gorm:"column:hash;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (TransactionRecord) TableName() string { return "settlement_transactions" }

// FeeSchedule is the singleton fee policy row.
type FeeSchedule struct {
	ID               int64     `gorm:"column:id;primaryKey"`
	TransferFeeBps   int64     `gorm:"column:transfer_fee_bps;not null"`
	WithdrawalFeeBps int64     `gorm:"column:withdrawal_fee_bps;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FeeSchedule) TableName() string { return "settlement_fee_schedule" }

const feeScheduleRowID = 1

// Default fee policy, applied when no schedule row exists yet.
const (
	DefaultTransferFeeBps   = 50
	DefaultWithdrawalFeeBps = 100
)

const bpsDenominator = 10000

// feeFor computes floor(amount * bps / 10000). The product overflows int64
// for large valid amounts, so it fails closed instead of undercharging.
func feeFor(amount, bps int64) (int64, error) {
	if bps == 0 {
		return 0, nil
	}
	if amount > math.MaxInt64/bps {
		return 0, errutil.UnprocessableEntity("fee computation overflow", nil)
	}
	return amount * bps / bpsDenominator, nil
}
