// Package loop runs scheduled work on a single dedicated goroutine.
//
// Everything passed to Schedule, and every continuation passed to Await, runs
// on the loop goroutine one at a time, so state touched only from there needs
// no locking. Blocking I/O is moved off the loop with Await and its result is
// posted back as a continuation.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hanpama/restygraph/internal/logging"
	"go.uber.org/zap"
)

// ErrClosed is returned by Schedule and Shutdown once shutdown has begun.
var ErrClosed = errors.New("loop: closed")

// PanicError carries a recovered panic together with the stack where it happened.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func(context.Context)
	pending int
	closing bool
	drain   func(context.Context)
	drained bool
	started bool

	ctx  context.Context
	log  *zap.Logger
	done chan struct{}
}

type Option func(*Loop)

func WithLogger(l *zap.Logger) Option        { return func(lp *Loop) { lp.log = l } }
func WithContext(ctx context.Context) Option { return func(lp *Loop) { lp.ctx = ctx } }

func New(opts ...Option) *Loop {
	l := &Loop{ctx: context.Background(), done: make(chan struct{})}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = logging.Logger()
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the loop goroutine. Calling it more than once has no effect.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// Schedule queues fn to run on the loop. It never blocks and may be called
// from any goroutine.
func (l *Loop) Schedule(fn func(context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return nil
}

// Await runs io on its own goroutine and then runs resume on the loop with
// its result. It must be called from code running on the loop. io must not
// touch loop-confined state.
func Await[T any](l *Loop, io func(context.Context) (T, error), resume func(T, error)) {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	go func() {
		v, err := guardIO(l.ctx, io)
		l.mu.Lock()
		l.pending--
		l.queue = append(l.queue, func(context.Context) { resume(v, err) })
		l.cond.Signal()
		l.mu.Unlock()
	}()
}

func guardIO[T any](ctx context.Context, io func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return io(ctx)
}

// Shutdown stops accepting new work. Once everything already queued has run
// and no Await is outstanding, drain runs once on the loop. Work awaited by
// drain still completes, then the loop exits.
func (l *Loop) Shutdown(drain func(context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return ErrClosed
	}
	l.closing = true
	l.drain = drain
	l.cond.Broadcast()
	return nil
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() { <-l.done }

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !(l.closing && l.pending == 0) {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			if !l.drained {
				l.drained = true
				if fn := l.drain; fn != nil {
					l.mu.Unlock()
					l.invoke(fn)
					continue
				}
			}
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop: recovered panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn(l.ctx)
}
