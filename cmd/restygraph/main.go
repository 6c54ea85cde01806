// Command restygraph builds the shared library loaded by lua-resty-ffi:
//
//	go build -buildmode=c-shared -o librestygraph.so ./cmd/restygraph
//
// The nginx worker calls libffi_init once with the bridge configuration and
// its task queue; the ngx_http_lua_ffi_* symbols resolve against the worker
// process at load time.
package main

/*
#include <stdlib.h>
#include <string.h>

void *ngx_http_lua_ffi_task_poll(void *p);
char *ngx_http_lua_ffi_get_req(void *tsk, int *len);
void ngx_http_lua_ffi_respond(void *tsk, int rc, char *rsp, int rsp_len);
*/
import "C"

import (
	"sync"
	"unsafe"

	bridge "github.com/hanpama/restygraph/internal/bridge"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/hanpama/restygraph/internal/logging"
	"go.uber.org/zap"
)

// ngxHost implements ffi.Host on top of the lua-resty-ffi task primitives.
type ngxHost struct{}

var _ ffi.Host = ngxHost{}

func (ngxHost) Poll(q ffi.Queue) ffi.Task {
	return ffi.TaskOf(C.ngx_http_lua_ffi_task_poll(q.Pointer()))
}

func (ngxHost) Request(t ffi.Task) ([]byte, error) {
	var n C.int
	p := C.ngx_http_lua_ffi_get_req(t.Pointer(), &n)
	if p == nil {
		return nil, ffi.ErrNoRequest
	}
	return C.GoBytes(unsafe.Pointer(p), n), nil
}

func (ngxHost) Transfer(b []byte) (ffi.Buffer, error) {
	if len(b) == 0 {
		return ffi.Buffer{}, nil
	}
	p := C.malloc(C.size_t(len(b)))
	if p == nil {
		return ffi.Buffer{}, ffi.ErrAllocFailed
	}
	C.memcpy(p, unsafe.Pointer(&b[0]), C.size_t(len(b)))
	return ffi.BufferOf(p, len(b)), nil
}

func (ngxHost) Respond(t ffi.Task, status ffi.Status, buf ffi.Buffer) {
	C.ngx_http_lua_ffi_respond(t.Pointer(), C.int(status), (*C.char)(buf.Pointer()), C.int(buf.Len()))
}

var (
	mu      sync.Mutex
	bridges []*bridge.Bridge
)

//export libffi_init
func libffi_init(cfg *C.char, tq unsafe.Pointer) C.int {
	var raw []byte
	if cfg != nil {
		raw = []byte(C.GoString(cfg))
	}
	b, err := bridge.Start(raw, ngxHost{}, ffi.QueueOf(tq))
	if err != nil {
		logging.Logger().Error("libffi_init failed", zap.Error(err))
		return 1
	}
	mu.Lock()
	bridges = append(bridges, b)
	mu.Unlock()
	return 0
}

func main() {}
