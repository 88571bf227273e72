package raft

import (
	"sync/atomic"
)

// Executor is the single logical thread a Raft context runs on (§5: "each
// Raft context owns a single-threaded executor"). Role transitions, log
// appends, commit advancement and membership updates are only ever
// mutated from tasks run through this executor, so none of that state
// needs its own lock.
type Executor struct {
	tasks  chan func()
	done   chan struct{}
	onTask atomic.Bool
	closed atomic.Bool
}

// NewExecutor creates an executor with the given task-queue depth and
// starts its run loop.
func NewExecutor(queueDepth int) *Executor {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	e := &Executor{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	for task := range e.tasks {
		e.onTask.Store(true)
		task()
		e.onTask.Store(false)
	}
	close(e.done)
}

// Submit enqueues fn to run on the executor thread. It does not block
// until fn completes; use SubmitSync for that. A no-op once Close has
// been called, since timer callbacks can still fire briefly after
// shutdown begins.
func (e *Executor) Submit(fn func()) {
	if e.closed.Load() {
		return
	}
	defer func() { recover() }() //nolint:errcheck
	e.tasks <- fn
}

// SubmitSync enqueues fn and blocks until it has run. A no-op once Close
// has been called.
func (e *Executor) SubmitSync(fn func()) {
	if e.closed.Load() {
		return
	}
	done := make(chan struct{})
	func() {
		defer func() {
			if recover() != nil {
				close(done)
			}
		}()
		e.tasks <- func() {
			fn()
			close(done)
		}
	}()
	<-done
}

// AssertOnExecutor panics if the executor is not currently running a
// task. It does not check which goroutine the caller is on, so a call from
// another goroutine while a task happens to be running passes. The role
// transition and RPC handler methods on Context call this first,
// mirroring the teacher's checkThread assertions.
func (e *Executor) AssertOnExecutor() {
	if !e.onTask.Load() {
		panic("raft: called off the executor thread")
	}
}

// Close stops accepting new tasks and waits for the run loop to drain.
func (e *Executor) Close() {
	e.closed.Store(true)
	close(e.tasks)
	<-e.done
}
