package token

import (
	"time"
)

// Balance is one holder's conserved-value balance row.
type Balance struct {
	HolderID  string    `gorm:"column:holder_id;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Balance) TableName() string { return "token_balances" }

// State is the singleton policy row: total supply, pause flag and the per-day
// transfer ceiling (0 disables the ceiling).
type State struct {
	ID          int       `gorm:"column:id;primaryKey"`
	TotalSupply int64     `gorm:"column:total_supply;not null;default:0"`
	Paused      bool      `gorm:"column:paused;not null;default:false"`
	DailyLimit  int64     `gorm:"column:daily_limit;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (State) TableName() string { return "token_state" }

const stateRowID = 1

// DailySpend accumulates the amount a holder has sent during one UTC day.
type DailySpend struct {
	HolderID  string    `gorm:"column:holder_id;primaryKey"`
	Day       string    `gorm:"column:day;primaryKey"`
	Spent     int64     `gorm:"column:spent;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DailySpend) TableName() string { return "token_daily_spend" }

func spendDay(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}
