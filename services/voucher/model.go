package voucher

import (
	"time"
)

// Denomination is an allowed voucher amount. At least one row must exist at
// all times.
type Denomination struct {
	Amount    int64     `gorm:"column:amount;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Denomination) TableName() string { return "voucher_denominations" }

// Voucher is a single-use prepaid credit. The plaintext code never reaches
// storage: lookups go through the SHA-256 hash, and the AES-GCM ciphertext
// exists only for admin recovery. Removing a denomination later does not
// invalidate vouchers already cut against it.
type Voucher struct {
	CodeHash   string     `gorm:"column:code_hash;primaryKey"`
	CodeEnc    string     `gorm:"column:code_enc"`
	Amount     int64      `gorm:"column:amount;not null"`
	Redeemed   bool       `gorm:"column:redeemed;not null;default:false"`
	RedeemedBy string     `gorm:"column:redeemed_by"`
	RedeemedAt *time.Time `gorm:"column:redeemed_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Voucher) TableName() string { return "vouchers" }
