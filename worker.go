package taskrt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ioDrainInterval bounds how long a worker with nothing else to do will
// block in IoEngine.Wait before re-checking for stealable work produced
// by a peer since it last looked. spec.md §4.4: "requires that waits
// never be longer than one scheduling epoch."
const ioDrainInterval = 20 * time.Millisecond

// ioDrainBatch is the maximum number of completion events drained per
// Wait call, matching the original's `constexpr std::size_t n_events = 64`.
const ioDrainBatch = 64

// Worker owns one OS thread's worth of scheduling state: its ready
// deque, its free-list of retired tasks, its I/O engine, a steal-victim
// RNG, and (once Runtime.Run wires them up) its peer directory.
type Worker struct {
	id  int
	io  IoEngine
	log zerolog.Logger

	ioBlocked atomic.Int64

	ready    *workerQueue
	freelist *Task // intrusive singly-linked, owner-only

	rng   *xorShift32
	peers []*Worker // read-only after Runtime.Run; excludes self

	wake wakeupSource // see wakeup.go: lets a spawn nudge an idle worker

	// external carries spawns requested from outside this worker's own
	// goroutine (Runtime.Spawn's random target pick). The Chase-Lev
	// deque and the free-list are owner-only, so a foreign goroutine
	// may not push onto w.ready or touch w.freelist directly, it hands
	// the closure to this channel instead, and the owner drains it into
	// its own deque on its next scheduling turn. This is the
	// correctness fix implied-but-left-undone by spec.md §4.5's
	// documented "known limitation".
	external chan pendingSpawn

	stopping atomic.Bool
}

type pendingSpawn struct {
	ctx context.Context
	fn  func(context.Context)
}

func newWorker(id int, io IoEngine, log zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		io:       io,
		log:      log.With().Int("worker_id", id).Logger(),
		ready:    newWorkerQueue(defaultDequeCapacity),
		rng:      newXorShift32(uint32(id)*0x9e3779b9 + 1),
		wake:     newChanWakeupSource(),
		external: make(chan pendingSpawn, 1024),
	}
}

// ID returns the worker's index within its Runtime.
func (w *Worker) ID() int { return w.id }

// spawnLocal allocates or reuses a Task, installs fn, and places it on
// this worker's own ready deque. Always called from within this worker's
// own goroutine (either the scheduler loop itself, for Runtime.Spawn's
// random target, or a task it currently owns, for the in-task Spawn
// free function) so no synchronization beyond the deque's own push is
// needed.
func (w *Worker) spawnLocal(parentCtx context.Context, fn func(context.Context)) *Task {
	t := w.allocateTask()
	t.owner = w
	t.fn = fn
	t.parentCtx = parentCtx
	w.ready.push(t)
	w.wake.nudge()
	return t
}

func (w *Worker) allocateTask() *Task {
	if t := w.popFreelist(); t != nil {
		return t
	}
	t := newTask()
	go t.loop()
	return t
}

func (w *Worker) releaseTask(t *Task) {
	t.next = w.freelist
	w.freelist = t
}

func (w *Worker) popFreelist() *Task {
	t := w.freelist
	if t != nil {
		w.freelist = t.next
		t.next = nil
	}
	return t
}

// run is the per-worker scheduler loop (spec.md §4.4): take local work ->
// steal -> drain I/O (bounded wait) -> retry, until stopping is set and
// there is truly nothing left to do.
func (w *Worker) run() {
	for {
		w.drainExternal()
		task := w.nextLocal()
		if task == nil {
			task = w.trySteal()
		}
		for task == nil {
			if w.stopping.Load() && w.ioBlocked.Load() == 0 {
				w.log.Debug().Msg("worker loop exiting: stopping and no pending io")
				return
			}

			drained := w.drainIO(ioDrainInterval)
			w.drainExternal()
			task = w.nextLocal()
			if task == nil {
				task = w.trySteal()
			}
			if task == nil && !drained && w.stopping.Load() && w.ioBlocked.Load() == 0 {
				return
			}
		}

		w.runTask(task)
	}
}

// nextLocal takes the owner's own next ready task. It deliberately calls
// steal rather than pop: pop drains LIFO from the bottom, so a task that
// yields and is immediately re-pushed would keep winning its own next
// turn and starve everything pushed before it (observable with just two
// cooperatively-yielding tasks on one worker). steal is safe for any
// caller including the owner itself, arbitrated by the same CAS on top
// a real thief would race. pop is kept for its documented Chase-Lev
// contract (see deque_test.go) but the scheduler does not use it on the
// hot path.
func (w *Worker) nextLocal() *Task {
	return w.ready.steal()
}

// drainExternal moves every spawn requested from outside this worker's
// goroutine onto its own ready deque. Safe to call only from the
// worker's own goroutine (it is the Chase-Lev owner performing push).
func (w *Worker) drainExternal() {
	for {
		select {
		case p := <-w.external:
			w.spawnLocal(p.ctx, p.fn)
		default:
			return
		}
	}
}

// spawnExternal hands fn to this worker from outside its own goroutine
// (Runtime.Spawn's random target pick). See the `external` field comment.
func (w *Worker) spawnExternal(parentCtx context.Context, fn func(context.Context)) {
	w.external <- pendingSpawn{ctx: parentCtx, fn: fn}
	w.wake.nudge()
}

// runTask hands control to task and blocks until it yields, blocks on
// I/O, or finalizes, the Go analogue of
// `CURRENT_TASK = task; rt_cpu_context_swap(current, &task->context);`
func (w *Worker) runTask(t *Task) {
	t.resume <- struct{}{}
	<-t.signal
}

// trySteal probes peer workers starting at a random index, returning the
// first task successfully stolen, or nil if none is available. No
// retry: the caller's outer loop decides whether to try again.
func (w *Worker) trySteal() *Task {
	n := len(w.peers)
	if n == 0 {
		return nil
	}

	mid := w.rng.intn(n)
	for i := 0; i < n; i++ {
		victim := w.peers[(mid+i)%n]
		if task := victim.ready.steal(); task != nil {
			task.owner = w
			return task
		}
	}
	return nil
}

// drainIO waits up to `wait` for completions on this worker's engine,
// copying each CompletionEvent's Result/Err onto its task (read back via
// IOResult) and pushing the woken task onto the local ready deque.
// Returns whether anything was drained.
func (w *Worker) drainIO(wait time.Duration) bool {
	if w.ioBlocked.Load() == 0 {
		// still wait, bounded, so a sleeping worker notices new peer
		// work or an external wake-up rather than spinning
		w.wake.wait(wait)
		return false
	}

	var events [ioDrainBatch]CompletionEvent
	n, err := w.io.Wait(events[:], wait)
	if err != nil {
		w.log.Error().Err(err).Msg("io engine wait failed")
		return false
	}
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		task, ok := events[i].Context.(*Task)
		if !ok || task == nil {
			continue
		}
		w.ioBlocked.Add(-1)
		task.ioResult = events[i].Result
		task.ioErr = events[i].Err
		task.owner = w
		w.ready.push(task)
	}
	return true
}

// shutdown is called once by Runtime.Shutdown after this worker's run()
// has returned. It drains the ready deque and free-list, retiring each
// task's goroutine (the Go analogue of freeing stack memory at worker
// destruction, see spec.md §4.4). Tasks still parked on I/O at this
// point are, by construction, leaked: a well-behaved caller drains I/O to
// completion before calling Shutdown.
func (w *Worker) shutdown() {
	for {
		t := w.ready.pop()
		if t == nil {
			break
		}
		w.retireTask(t)
	}
	for {
		t := w.popFreelist()
		if t == nil {
			break
		}
		w.retireTask(t)
	}
}

func (w *Worker) retireTask(t *Task) {
	t.killed = true
	t.resume <- struct{}{}
}
