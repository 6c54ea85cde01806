package loop

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

type routineKey struct{}

// routine is a body running in place of the loop goroutine. The loop side and
// the body hand a single turn back and forth over turn, so only one of them
// runs at any moment.
type routine struct {
	l    *Loop
	turn chan struct{}
}

// Go runs body as a loop routine. It must be called from code running on the
// loop. It returns once body finishes or first suspends in Suspend. Until
// then the loop is blocked on body, so body may touch loop-confined state the
// same way a scheduled function does.
func Go(l *Loop, ctx context.Context, body func(context.Context)) {
	r := &routine{l: l, turn: make(chan struct{})}
	ctx = context.WithValue(ctx, routineKey{}, r)
	go func() {
		defer func() { r.turn <- struct{}{} }()
		defer func() {
			if v := recover(); v != nil {
				l.log.Error("loop: recovered panic in routine",
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		body(ctx)
	}()
	<-r.turn
}

// Suspend runs io off the loop and returns its result.
//
// Inside a routine started by Go, the routine gives its turn back to the loop
// while io runs, and continues on the loop's turn once io has finished. Other
// scheduled work and continuations run in the meantime. Outside a routine io
// runs on the calling goroutine.
func Suspend[T any](ctx context.Context, io func(context.Context) (T, error)) (T, error) {
	r, ok := ctx.Value(routineKey{}).(*routine)
	if !ok {
		return guardIO(ctx, io)
	}
	// io runs outside the routine, so nested Suspend calls run inline.
	ioCtx := context.WithValue(ctx, routineKey{}, nil)

	var (
		v   T
		err error
	)
	Await(r.l, func(context.Context) (T, error) {
		return io(ioCtx)
	}, func(rv T, rerr error) {
		v, err = rv, rerr
		r.turn <- struct{}{}
		<-r.turn
	})
	r.turn <- struct{}{}
	<-r.turn
	return v, err
}
