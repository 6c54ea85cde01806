// Package ffi describes the boundary between the bridge and the foreign host
// that owns the task queue. Handles are opaque pointers; the bridge never
// dereferences them itself.
package ffi

import (
	"errors"
	"unsafe"
)

// Task is an opaque handle for one pending foreign request. The zero Task is
// the shutdown sentinel returned by Poll.
type Task struct{ p unsafe.Pointer }

// TaskOf wraps a raw foreign pointer.
func TaskOf(p unsafe.Pointer) Task { return Task{p: p} }

func (t Task) IsNil() bool             { return t.p == nil }
func (t Task) Pointer() unsafe.Pointer { return t.p }

// Queue is an opaque handle for the foreign task queue.
type Queue struct{ p unsafe.Pointer }

func QueueOf(p unsafe.Pointer) Queue    { return Queue{p: p} }
func (q Queue) Pointer() unsafe.Pointer { return q.p }

// Buffer is a byte region allocated by the foreign allocator. Once passed to
// Respond, the host owns and frees it.
type Buffer struct {
	p unsafe.Pointer
	n int
}

func BufferOf(p unsafe.Pointer, n int) Buffer { return Buffer{p: p, n: n} }
func (b Buffer) Pointer() unsafe.Pointer      { return b.p }
func (b Buffer) Len() int                     { return b.n }

// Status is the completion code delivered with a response.
type Status int

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

var (
	ErrNoRequest   = errors.New("ffi: task carries no request")
	ErrAllocFailed = errors.New("ffi: foreign allocation failed")
	ErrHostClosed  = errors.New("ffi: host closed")
)

// RequestIDs is implemented by hosts that carry a correlation id with each
// task, such as a front end forwarding the id of the HTTP request it serves.
type RequestIDs interface {
	RequestID(t Task) (string, bool)
}

// Host is the set of foreign primitives the bridge relies on.
//
// Poll blocks until a task is available and returns the zero Task once the
// host is shutting down. Request copies the task's payload into Go memory.
// Transfer allocates a foreign buffer holding a copy of b; ownership of the
// buffer moves to the host when it is handed to Respond. Respond must be
// called exactly once per task.
type Host interface {
	Poll(q Queue) Task
	Request(t Task) ([]byte, error)
	Transfer(b []byte) (Buffer, error)
	Respond(t Task, status Status, buf Buffer)
}
