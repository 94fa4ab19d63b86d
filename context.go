package taskrt

import "context"

// currentTaskKey is the context.Context key under which the running
// *Task is stashed. This is the idiomatic-Go substitute for the original
// runtime's `thread_local Task* CURRENT_TASK` (see SPEC_FULL.md §0):
// every task closure receives a ctx that was built, once, by wrapping its
// caller's context with this key right before the task's goroutine was
// resumed, so at most one goroutine ever observes a given *Task through
// its context, the same one-owner guarantee thread-local storage gave the
// original.
type currentTaskKey struct{}

// CurrentTask returns the Task currently executing on the calling
// goroutine's ctx, or nil if ctx was not produced by this runtime (the
// direct analogue of current_task() returning null outside any task).
func CurrentTask(ctx context.Context) *Task {
	t, _ := ctx.Value(currentTaskKey{}).(*Task)
	return t
}

func withCurrentTask(parent context.Context, t *Task) context.Context {
	return context.WithValue(parent, currentTaskKey{}, t)
}

// Yield cooperatively suspends the calling task, placing it back on its
// owning worker's ready deque, and resumes other ready work. It panics if
// called outside a task, matching the invariant that these operations are
// only valid on the currently running task.
func Yield(ctx context.Context) {
	t := mustCurrentTask(ctx, "Yield")
	t.yield()
}

// Spawn schedules fn as a new task. Called from within a running task,
// it forwards to that task's owning worker (spawn is always local, see
// spec.md §4.5, "locality dominates; explicit balancing is the
// scheduler's job via stealing"). Called outside any task, it is
// equivalent to calling Runtime.Spawn and requires ctx to carry a Runtime
// (attached inside this package via withRuntime); otherwise it panics.
func Spawn(ctx context.Context, fn func(context.Context)) {
	if t := CurrentTask(ctx); t != nil {
		t.owner.spawnLocal(ctx, fn)
		return
	}
	rt := runtimeFromContext(ctx)
	if rt == nil {
		panic("taskrt: Spawn called with a context carrying neither a Task nor a Runtime")
	}
	rt.Spawn(fn)
}

// Engine returns the IoEngine belonging to the calling task's current
// worker, letting I/O helper packages like netio bind new sockets
// against the right engine without the caller threading one through
// explicitly. Panics if called outside a task.
func Engine(ctx context.Context) IoEngine {
	return mustCurrentTask(ctx, "Engine").owner.io
}

func mustCurrentTask(ctx context.Context, op string) *Task {
	t := CurrentTask(ctx)
	if t == nil {
		panic("taskrt: " + op + " called outside a task")
	}
	return t
}

// currentRuntimeKey lets a context minted by Runtime.Spawn's caller (i.e.
// one with no running Task yet) still resolve an external Spawn() call.
type currentRuntimeKey struct{}

func withRuntime(parent context.Context, r *Runtime) context.Context {
	return context.WithValue(parent, currentRuntimeKey{}, r)
}

func runtimeFromContext(ctx context.Context) *Runtime {
	r, _ := ctx.Value(currentRuntimeKey{}).(*Runtime)
	return r
}
