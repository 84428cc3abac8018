package settlement

import (
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(NewService),
)

// Models lists the tables this service owns, for migration.
func Models() []any {
	return []any{&User{}, &TransactionRecord{}, &FeeSchedule{}}
}
