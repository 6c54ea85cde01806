package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	loop "github.com/hanpama/restygraph/internal/loop"
	registry "github.com/hanpama/restygraph/internal/registry"
	reqid "github.com/hanpama/restygraph/internal/reqid"
	"go.uber.org/zap"
)

// Dispatcher runs commands against the registry. Every method runs on the
// loop goroutine; blocking work goes through loop.Await or, for queries,
// loop.Suspend inside a loop routine.
type Dispatcher struct {
	loop *loop.Loop
	reg  *registry.Registry
	host ffi.Host
	log  *zap.Logger
}

func NewDispatcher(l *loop.Loop, reg *registry.Registry, host ffi.Host, log *zap.Logger) *Dispatcher {
	return &Dispatcher{loop: l, reg: reg, host: host, log: log}
}

type createdPayload struct {
	Schema int64 `json:"schema"`
}

// Dispatch answers task. decodeErr, when set, is the reason cmd could not be
// built and is reported to the task.
func (d *Dispatcher) Dispatch(ctx context.Context, task ffi.Task, cmd Command, decodeErr error) {
	ctx = requestContext(ctx, d.host, task)
	reply := newReply(ctx, d.host, task, d.log)
	if cmd != nil {
		reply.command = cmd.Code().String()
		reply.schemaID = schemaID(cmd)
	}
	eventbus.Publish(ctx, events.CommandStart{Command: reply.command, SchemaID: reply.schemaID})
	defer d.guard(reply)

	if decodeErr != nil {
		d.fail(reply, decodeErr)
		return
	}
	switch c := cmd.(type) {
	case CreateSchema:
		d.createSchema(reply, c)
	case Query:
		d.query(reply, c)
	case CloseSchema:
		d.closeSchema(reply, c)
	default:
		d.fail(reply, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd))
	}
}

// requestContext gives the task a fresh id. An id the host attached to task
// is kept as its parent, since one HTTP request may submit several tasks.
func requestContext(parent context.Context, host ffi.Host, task ffi.Task) context.Context {
	if ids, ok := host.(ffi.RequestIDs); ok {
		if id, ok := ids.RequestID(task); ok {
			parent = reqid.WithParent(parent, id)
		}
	}
	ctx, _ := reqid.NewContext(parent)
	return ctx
}

func (d *Dispatcher) createSchema(reply *Reply, c CreateSchema) {
	id, err := d.reg.Create(c.Config)
	if err != nil {
		d.fail(reply, err)
		return
	}
	reply.schemaID = id
	reply.OK(createdPayload{Schema: id})
}

// query runs the request as a loop routine. Parsing, validation, traversal
// and response decoding stay on the loop; the routine suspends only while a
// depth's datasource requests are in flight.
func (d *Dispatcher) query(reply *Reply, c Query) {
	rec, err := d.reg.Lookup(c.SchemaID)
	if err != nil {
		d.fail(reply, err)
		return
	}
	loop.Go(d.loop, reply.ctx, func(ctx context.Context) {
		defer d.guard(reply)
		reply.OK(rec.Execute(ctx, c.Request))
	})
}

func (d *Dispatcher) closeSchema(reply *Reply, c CloseSchema) {
	rec, err := d.reg.Remove(c.SchemaID)
	if err != nil {
		d.fail(reply, err)
		return
	}
	loop.Await(d.loop,
		func(context.Context) (struct{}, error) {
			return struct{}{}, rec.Close(reply.ctx)
		},
		func(_ struct{}, err error) {
			defer d.guard(reply)
			if err != nil {
				d.fail(reply, fmt.Errorf("close schema %d: %w", c.SchemaID, err))
				return
			}
			reply.OK(nil)
		})
}

// Drain closes every remaining schema. It is the loop's shutdown hook.
func (d *Dispatcher) Drain(ctx context.Context) {
	for _, rec := range d.reg.Drain() {
		loop.Await(d.loop,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, rec.Close(ctx)
			},
			func(_ struct{}, err error) {
				if err != nil {
					d.log.Error("close schema at shutdown", zap.Int64("schema", rec.ID), zap.Error(err))
				}
			})
	}
}

func (d *Dispatcher) fail(reply *Reply, err error) {
	d.log.Error("command failed",
		zap.Uintptr("task", uintptr(reply.task.Pointer())),
		zap.String("cmd", reply.command),
		zap.Error(err))
	reply.Fail(diagnostic(err))
}

// guard turns a panic in a handler or continuation into an error response.
func (d *Dispatcher) guard(reply *Reply) {
	if r := recover(); r != nil {
		err := &loop.PanicError{Value: r, Stack: debug.Stack()}
		d.fail(reply, err)
	}
}

// diagnostic renders err followed by a goroutine stack. Recovered panics
// carry the stack of the panic site.
func diagnostic(err error) string {
	var perr *loop.PanicError
	if errors.As(err, &perr) {
		return err.Error() + "\n\n" + string(perr.Stack)
	}
	return err.Error() + "\n\n" + string(debug.Stack())
}
