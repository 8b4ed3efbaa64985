// Package signals lets model lifecycle hooks notify interested parties
// without knowing who they are. Receivers are connected once at start-up;
// the dispatcher travels on the context given to the ORM.
package signals

import (
	"context"
	"errors"
	"sync"
)

// Signal names a lifecycle event.
type Signal string

const (
	UserCreated    Signal = "user_created"
	UserDeleted    Signal = "user_deleted"
	ProjectCreated Signal = "project_created"
	ProjectDeleted Signal = "project_deleted"
)

// Receiver handles a signal. payload is the model the event is about.
type Receiver func(ctx context.Context, payload any) error

// Dispatcher fans a signal out to its connected receivers.
type Dispatcher struct {
	mu        sync.RWMutex
	receivers map[Signal][]Receiver
}

// NewDispatcher returns a dispatcher with no receivers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{receivers: make(map[Signal][]Receiver)}
}

// Connect adds r to the receivers of sig.
func (d *Dispatcher) Connect(sig Signal, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receivers[sig] = append(d.receivers[sig], r)
}

// Send calls every receiver of sig in connection order. All receivers run
// even if some fail; their errors are joined.
func (d *Dispatcher) Send(ctx context.Context, sig Signal, payload any) error {
	d.mu.RLock()
	receivers := append([]Receiver(nil), d.receivers[sig]...)
	d.mu.RUnlock()

	var errs []error
	for _, r := range receivers {
		if err := r(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type contextKey struct{}

// WithDispatcher returns a context carrying d.
func WithDispatcher(ctx context.Context, d *Dispatcher) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext returns the dispatcher on ctx, if any.
func FromContext(ctx context.Context) (*Dispatcher, bool) {
	if ctx == nil {
		return nil, false
	}
	d, ok := ctx.Value(contextKey{}).(*Dispatcher)
	return d, ok && d != nil
}

// Send sends sig through the dispatcher on ctx. Without one it does nothing.
func Send(ctx context.Context, sig Signal, payload any) error {
	d, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return d.Send(ctx, sig, payload)
}
