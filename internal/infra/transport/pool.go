package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Pool bounds the number of handlers running at once for one subscription.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a pool with size slots. A size below one is treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Go runs fn once a slot is free. It returns ctx.Err() if ctx is done first.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		fn()
	}()
	return nil
}

// Wait blocks until every started fn has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Invoke calls h and converts a panic into an error so one bad message cannot
// take down the subscription.
func Invoke(ctx context.Context, h Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic in message handler",
				slog.String("delivery_id", d.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}
