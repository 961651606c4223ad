package sync

import (
	"context"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/util"
)

// WaitHandle is a reusable signal that a single waiter may block on.
// It is used to wait for the completion of work that is performed
// asynchronously by another goroutine, such as a change list being
// committed durably.
type WaitHandle struct {
	signal chan error
}

// Set the WaitHandle, waking up the waiter. The error is handed to the
// waiter. A WaitHandle may only be set once before it is reset.
func (wh *WaitHandle) Set(err error) {
	select {
	case wh.signal <- err:
	default:
		panic("Attempted to set a wait handle that was already set")
	}
}

// Wait until the WaitHandle is set, returning the error provided to
// Set().
func (wh *WaitHandle) Wait(ctx context.Context) error {
	select {
	case err := <-wh.signal:
		return err
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	}
}

func (wh *WaitHandle) reset() {
	select {
	case <-wh.signal:
	default:
	}
}

// WaitHandlePool is a pool of WaitHandles. It prevents allocation of
// new channels every time a synchronous operation needs to wait for
// completion.
type WaitHandlePool struct {
	pool sync.Pool
}

// Get a WaitHandle from the pool. The WaitHandle is in the unset
// state.
func (p *WaitHandlePool) Get() *WaitHandle {
	if wh, ok := p.pool.Get().(*WaitHandle); ok {
		return wh
	}
	return &WaitHandle{
		signal: make(chan error, 1),
	}
}

// Put a WaitHandle back into the pool.
func (p *WaitHandlePool) Put(wh *WaitHandle) {
	wh.reset()
	p.pool.Put(wh)
}
