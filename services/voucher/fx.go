package voucher

import (
	"go.uber.org/fx"
)

var Module = fx.Module("voucher.service",
	fx.Provide(NewService),
)

// Models lists the tables this service owns, for migration.
func Models() []any {
	return []any{&Denomination{}, &Voucher{}}
}
