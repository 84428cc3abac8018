package multisig

import (
	"context"
	"sync"

	"inclusivebank-settlement/pkg/errutil"
)

// Handler executes one kind of call proposal once it has enough
// confirmations.
type Handler func(ctx context.Context, value int64, payload []byte) error

// Dispatcher routes executed call proposals to the privileged operation they
// name. The application shell registers a handler per admin operation at
// startup; registration is closed before proposals start executing.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(target string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[target] = h
}

func (d *Dispatcher) dispatch(ctx context.Context, target string, value int64, payload []byte) error {
	d.mu.RLock()
	h, ok := d.handlers[target]
	d.mu.RUnlock()
	if !ok {
		return errutil.NotImplemented("no handler registered for target", nil)
	}
	return h(ctx, value, payload)
}
