package ffi

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hanpama/restygraph/internal/logging"
	"go.uber.org/zap"
)

// Response is what the host observed for a task.
type Response struct {
	Status  Status
	Payload []byte
}

type memTask struct {
	req    []byte
	hasReq bool
	rid    string
	done   atomic.Bool
	out    chan Response
}

// MemHost is an in-process Host. It backs the tests and the development
// front ends, where no foreign runtime is present.
type MemHost struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*memTask
	live    map[unsafe.Pointer]*memTask
	buffers map[unsafe.Pointer][]byte
	closed  bool

	failTransfer atomic.Bool
	violations   atomic.Int64
}

var (
	_ Host       = (*MemHost)(nil)
	_ RequestIDs = (*MemHost)(nil)
)

func NewMemHost() *MemHost {
	h := &MemHost{
		live:    make(map[unsafe.Pointer]*memTask),
		buffers: make(map[unsafe.Pointer][]byte),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Queue returns a handle for the single queue this host serves.
func (h *MemHost) Queue() Queue { return QueueOf(unsafe.Pointer(h)) }

// Submit enqueues a request and returns a channel that receives its response.
// A nil request produces a task whose Request call fails.
func (h *MemHost) Submit(req []byte) (<-chan Response, error) {
	return h.SubmitWithID("", req)
}

// SubmitWithID is Submit for a task that carries the request id rid. An
// empty rid carries none.
func (h *MemHost) SubmitWithID(rid string, req []byte) (<-chan Response, error) {
	t := &memTask{rid: rid, out: make(chan Response, 1)}
	if req != nil {
		t.req = append([]byte(nil), req...)
		t.hasReq = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	h.queue = append(h.queue, t)
	h.live[unsafe.Pointer(t)] = t
	h.cond.Signal()
	return t.out, nil
}

// Close makes Poll return the sentinel once queued tasks are consumed.
func (h *MemHost) Close() {
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// FailTransfers makes subsequent Transfer calls fail when on is true.
func (h *MemHost) FailTransfers(on bool) { h.failTransfer.Store(on) }

// Violations counts Respond calls on tasks that already had a response.
func (h *MemHost) Violations() int64 { return h.violations.Load() }

// Outstanding reports buffers transferred but never handed to Respond.
func (h *MemHost) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

func (h *MemHost) Poll(q Queue) Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.queue) == 0 && !h.closed {
		h.cond.Wait()
	}
	if len(h.queue) == 0 {
		return Task{}
	}
	t := h.queue[0]
	h.queue[0] = nil
	h.queue = h.queue[1:]
	return TaskOf(unsafe.Pointer(t))
}

func (h *MemHost) Request(t Task) ([]byte, error) {
	mt := h.lookup(t)
	if mt == nil || !mt.hasReq {
		return nil, ErrNoRequest
	}
	return append([]byte(nil), mt.req...), nil
}

func (h *MemHost) Transfer(b []byte) (Buffer, error) {
	if h.failTransfer.Load() {
		return Buffer{}, ErrAllocFailed
	}
	if len(b) == 0 {
		return Buffer{}, nil
	}
	cp := append([]byte(nil), b...)
	p := unsafe.Pointer(&cp[0])
	h.mu.Lock()
	h.buffers[p] = cp
	h.mu.Unlock()
	return BufferOf(p, len(cp)), nil
}

func (h *MemHost) Respond(t Task, status Status, buf Buffer) {
	var payload []byte
	h.mu.Lock()
	if buf.Pointer() != nil {
		if _, ok := h.buffers[buf.Pointer()]; ok {
			payload = append([]byte(nil), unsafe.Slice((*byte)(buf.Pointer()), buf.Len())...)
			delete(h.buffers, buf.Pointer())
		}
	}
	mt := h.live[t.Pointer()]
	h.mu.Unlock()

	if mt == nil {
		h.violations.Add(1)
		logging.Logger().Error("respond on unknown task")
		return
	}
	if mt.done.Swap(true) {
		h.violations.Add(1)
		logging.Logger().Error("task responded twice", zap.Int("status", int(status)))
		return
	}
	h.mu.Lock()
	delete(h.live, t.Pointer())
	h.mu.Unlock()
	mt.out <- Response{Status: status, Payload: payload}
}

// RequestID returns the id the task was submitted with.
func (h *MemHost) RequestID(t Task) (string, bool) {
	mt := h.lookup(t)
	if mt == nil || mt.rid == "" {
		return "", false
	}
	return mt.rid, true
}

func (h *MemHost) lookup(t Task) *memTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live[t.Pointer()]
}
