package multisig

import (
	"time"

	"gorm.io/datatypes"
)

// TreasuryID is the token ledger holder the gate disburses from by
// convention. Token proposals may name any holder the deployment lets the
// gate control.
const TreasuryID = "multisig:treasury"

// Proposal kinds.
const (
	KindCall  = "call"
	KindToken = "token"
)

// Owner is one member of the signing set, seeded from validated
// configuration at startup.
type Owner struct {
	ID        string    `gorm:"column:owner_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Owner) TableName() string { return "multisig_owners" }

// Proposal is a pending or executed privileged action. Idx is assigned in
// arrival order starting at 0 and never reused.
type Proposal struct {
	Idx        int64          `gorm:"column:idx;primaryKey;autoIncrement:false"`
	Kind       string         `gorm:"column:kind;not null"`
	Target     string         `gorm:"column:target;not null"`
	ToID       string         `gorm:"column:to_id"`
	Amount     int64          `gorm:"column:amount"`
	Value      int64          `gorm:"column:value"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	Executed   bool           `gorm:"column:executed;not null;default:false"`
	CreatedBy  string         `gorm:"column:created_by;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	ExecutedAt *time.Time     `gorm:"column:executed_at"`
}

func (Proposal) TableName() string { return "multisig_proposals" }

// Confirmation is one owner's standing approval of one proposal.
type Confirmation struct {
	Idx       int64     `gorm:"column:idx;primaryKey;autoIncrement:false"`
	OwnerID   string    `gorm:"column:owner_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Confirmation) TableName() string { return "multisig_confirmations" }
