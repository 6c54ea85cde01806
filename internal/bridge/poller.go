package bridge

import (
	"context"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	loop "github.com/hanpama/restygraph/internal/loop"
	"go.uber.org/zap"
)

// Poller feeds tasks from the foreign queue to the loop. It never waits for
// a command to finish.
type Poller struct {
	host  ffi.Host
	queue ffi.Queue
	loop  *loop.Loop
	disp  *Dispatcher
	log   *zap.Logger
}

func NewPoller(host ffi.Host, queue ffi.Queue, l *loop.Loop, disp *Dispatcher, log *zap.Logger) *Poller {
	return &Poller{host: host, queue: queue, loop: l, disp: disp, log: log}
}

// Run polls until the host returns the shutdown sentinel. It then drains the
// loop, closing every remaining schema, and returns once the loop exited.
func (p *Poller) Run() {
	p.log.Info("poller started")
	for {
		task := p.host.Poll(p.queue)
		if task.IsNil() {
			p.log.Info("poller received shutdown sentinel")
			if err := p.loop.Shutdown(p.disp.Drain); err != nil {
				p.log.Warn("loop already shutting down", zap.Error(err))
			}
			p.loop.Wait()
			return
		}
		p.submit(task)
	}
}

func (p *Poller) submit(task ffi.Task) {
	var cmd Command
	raw, err := p.host.Request(task)
	if err == nil {
		cmd, err = Decode(raw)
	}
	if err != nil {
		p.log.Debug("request rejected before dispatch",
			zap.Uintptr("task", uintptr(task.Pointer())), zap.Error(err))
	}
	if serr := p.loop.Schedule(func(ctx context.Context) {
		p.disp.Dispatch(ctx, task, cmd, err)
	}); serr != nil {
		reply := newReply(requestContext(context.Background(), p.host, task), p.host, task, p.log)
		if cmd != nil {
			reply.command = cmd.Code().String()
		}
		eventbus.Publish(reply.ctx, events.CommandStart{Command: reply.command})
		reply.Fail(diagnostic(serr))
	}
}
