package taskrt

import (
	"context"
	"sync/atomic"
)

var taskIDSeq atomic.Uint64

// taskSignalKind is what a task's goroutine reports back to its worker
// when it hands control back, the Go analogue of the reason a
// context_swap returned.
type taskSignalKind int

const (
	sigYield taskSignalKind = iota
	sigBlock
	sigFinalize
)

// Task is the fundamental unit of execution: a user closure plus its own
// goroutine (standing in for the original's private 32KiB stack, see
// SPEC_FULL.md §0) and saved resume point, chained onto its owning
// worker's free-list or ready deque via next.
type Task struct {
	id    uint64
	owner *Worker
	next  *Task // intrusive link: free-list only, see SPEC_FULL.md §0

	fn        func(context.Context)
	parentCtx context.Context

	resume chan struct{}    // worker -> task goroutine: run
	signal chan taskSignalKind // task goroutine -> worker: yielded/blocked/finished
	killed bool              // set by worker shutdown to retire the goroutine

	// ioResult/ioErr are set by the owning worker's drainIO from the
	// CompletionEvent that woke this task out of blockOnIO, and read back
	// via IOResult once BlockOnIO returns control to the caller.
	ioResult int64
	ioErr    error
}

func newTask() *Task {
	return &Task{
		id:     taskIDSeq.Add(1),
		resume: make(chan struct{}),
		signal: make(chan taskSignalKind),
	}
}

// ID is a monotonic, process-wide unique task identifier.
func (t *Task) ID() uint64 { return t.id }

// Owner returns the worker currently responsible for this task. May
// change across a steal.
func (t *Task) Owner() *Worker { return t.owner }

// loop is the task's persistent goroutine body, the Go analogue of
// `trampoline` + `task_main`: each time the worker hands it `resume`, it
// runs the currently installed closure to completion (in the stackful
// sense: Yield/BlockOnIO suspend *inside* this call by blocking on
// t.resume, resuming exactly where they left off on this goroutine's own
// stack) and then finalizes, handing itself back to the free-list and
// parking for reuse, stack memory retained, exactly as spec.md §4.4
// describes for the C stack-reuse case.
func (t *Task) loop() {
	for range t.resume {
		if t.killed {
			return
		}

		fn := t.fn
		ctx := withCurrentTask(t.parentCtx, t)
		fn(ctx)

		owner := t.owner
		t.fn = nil
		t.parentCtx = nil
		owner.releaseTask(t)
		t.signal <- sigFinalize
	}
}

// yield pushes the task back onto its worker's ready deque and blocks
// until resumed, in that order, mirroring worker.cpp's
// `Task::yield()`: `owner->m_ready.push_back(this); owner->run(&context);`
func (t *Task) yield() {
	t.owner.ready.push(t)
	t.signal <- sigYield
	<-t.resume
}

// blockOnIO records that the task is I/O-parked and blocks until resumed
// by the completion drain. The caller must already have registered this
// task as the pending operation's completion context.
func (t *Task) blockOnIO() {
	t.owner.ioBlocked.Add(1)
	t.signal <- sigBlock
	<-t.resume
}

// BlockOnIO cooperatively parks the calling task until an I/O completion
// event references it. Panics if called outside a task.
func BlockOnIO(ctx context.Context) {
	mustCurrentTask(ctx, "BlockOnIO").blockOnIO()
}

// IOResult returns the Result and Err the IoEngine delivered in the
// CompletionEvent that most recently woke the calling task from
// BlockOnIO. Panics if called outside a task.
func IOResult(ctx context.Context) (int64, error) {
	t := mustCurrentTask(ctx, "IOResult")
	return t.ioResult, t.ioErr
}

// RegisterIO associates handle with the current worker's IoEngine,
// one-shot, using the calling task as the completion context.
func RegisterIO(ctx context.Context, h Handle) error {
	t := mustCurrentTask(ctx, "RegisterIO")
	return t.owner.io.Register(h, t)
}
