package runtime

import (
	"context"
	"sync"

	"github.com/c360/agentruntime/errors"
)

// Future is a single-fulfillment result holder. Exactly one of resolve,
// fail, or cancel takes effect; later attempts are ignored. Cancellation is
// kept apart from failure so callers can tell an aborted operation from a
// broken one.
type Future struct {
	mu       sync.Mutex
	value    any
	err      error
	canceled bool
	settled  bool
	done     chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve fulfills the future with a value. Returns false if already settled.
func (f *Future) resolve(value any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.value = value
	f.settled = true
	close(f.done)
	return true
}

// fail fulfills the future with an error. Returns false if already settled.
func (f *Future) fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err = err
	f.settled = true
	close(f.done)
	return true
}

// cancel fulfills the future with the distinguished cancellation outcome
func (f *Future) cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err = errors.ErrDeliveryCanceled
	f.canceled = true
	f.settled = true
	close(f.done)
	return true
}

// complete routes to resolve, fail, or cancel based on the error
func (f *Future) complete(value any, err error) bool {
	switch {
	case err == nil:
		return f.resolve(value)
	case errors.IsCanceled(err):
		return f.cancel()
	default:
		return f.fail(err)
	}
}

// Done returns a channel closed when the future settles
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. Valid only after Done is closed; callers that
// may race settlement should use Await.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Canceled reports whether the future settled via cancellation
func (f *Future) Canceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

// Await blocks until the future settles or ctx is done, whichever is first
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Future", "Await", "wait for settlement")
	}
}
