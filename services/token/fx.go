package token

import (
	"go.uber.org/fx"
)

var Module = fx.Module("token.service",
	fx.Provide(NewService),
)

// Models lists the tables this service owns, for migration.
func Models() []any {
	return []any{&Balance{}, &State{}, &DailySpend{}}
}
