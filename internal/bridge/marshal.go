package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"go.uber.org/zap"
)

// Reply answers one task. The first call to OK or Fail responds; later calls
// are logged and dropped.
type Reply struct {
	ctx   context.Context
	host  ffi.Host
	task  ffi.Task
	log   *zap.Logger
	start time.Time

	command  string
	schemaID int64
	answered atomic.Bool
}

func newReply(ctx context.Context, host ffi.Host, task ffi.Task, log *zap.Logger) *Reply {
	return &Reply{ctx: ctx, host: host, task: task, log: log, start: time.Now()}
}

// OK responds with payload encoded as JSON. A nil payload sends an empty
// buffer. It reports whether this call answered the task.
func (r *Reply) OK(payload any) bool {
	if !r.claim() {
		return false
	}
	if payload == nil {
		r.respond(ffi.StatusOK, ffi.Buffer{}, nil)
		return true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.respondError(diagnostic(err), err)
		return true
	}
	buf, err := r.host.Transfer(body)
	if err != nil {
		r.respondError(diagnostic(err), err)
		return true
	}
	r.respond(ffi.StatusOK, buf, nil)
	return true
}

// Fail responds with status error and diag as the payload.
func (r *Reply) Fail(diag string) bool {
	if !r.claim() {
		return false
	}
	r.respondError(diag, errors.New(firstLine(diag)))
	return true
}

func (r *Reply) claim() bool {
	if r.answered.CompareAndSwap(false, true) {
		return true
	}
	r.log.Warn("task already answered, dropping response",
		zap.Uintptr("task", uintptr(r.task.Pointer())),
		zap.String("cmd", r.command))
	return false
}

func (r *Reply) respondError(diag string, cause error) {
	buf, err := r.host.Transfer([]byte(diag))
	if err != nil {
		// Nothing left to carry the diagnostic; the status alone reports failure.
		r.log.Error("transfer of error diagnostic failed",
			zap.Uintptr("task", uintptr(r.task.Pointer())), zap.Error(err))
		buf = ffi.Buffer{}
	}
	r.respond(ffi.StatusError, buf, cause)
}

func (r *Reply) respond(status ffi.Status, buf ffi.Buffer, cause error) {
	r.host.Respond(r.task, status, buf)
	eventbus.Publish(r.ctx, events.CommandFinish{
		Command:  r.command,
		SchemaID: r.schemaID,
		OK:       status == ffi.StatusOK,
		Err:      cause,
		Duration: time.Since(r.start),
	})
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
