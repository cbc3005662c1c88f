package pe

import (
	"runtime"
	"sync"

	"github.com/carved4/go-ldr/pkg/errors"
)

type task struct {
	fn         uintptr
	args       []uintptr
	completion chan result
}

type result struct {
	r1  uintptr
	err error
}

// Worker runs every invocation on one goroutine locked to its OS thread,
// so an image's attach and detach see the same native thread. The thread
// starts on first use and lives until Close.
type Worker struct {
	inner  Invoker
	tasks  chan *task
	start  sync.Once
	mu     sync.Mutex
	closed bool
}

// NewWorker serializes calls to inner onto a dedicated thread.
func NewWorker(inner Invoker) *Worker {
	return &Worker{
		inner: inner,
		tasks: make(chan *task, 1),
	}
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for t := range w.tasks {
		r1, err := w.inner.Invoke(t.fn, t.args...)
		t.completion <- result{r1: r1, err: err}
	}
}

// Invoke queues the call and waits for its result.
func (w *Worker) Invoke(fn uintptr, args ...uintptr) (uintptr, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, errors.New(errors.ErrEntryPointCall, "pe.Worker")
	}
	w.start.Do(func() { go w.run() })
	t := &task{fn: fn, args: args, completion: make(chan result, 1)}
	w.tasks <- t
	w.mu.Unlock()

	res := <-t.completion
	return res.r1, res.err
}

// Close stops the worker thread once queued calls have finished.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.tasks)
}
