package multisig

import (
	"go.uber.org/fx"
)

var Module = fx.Module("multisig.service",
	fx.Provide(NewDispatcher),
	fx.Provide(NewService),
)

// Models lists the tables this service owns, for migration.
func Models() []any {
	return []any{&Owner{}, &Proposal{}, &Confirmation{}}
}
