package taskrt

import (
	"context"
	"fmt"
	stdruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EngineFactory creates the seed IoEngine a Runtime's first worker owns;
// every other worker's engine is obtained via seed.Share(). Tests and
// package netio's reference implementations both satisfy this signature.
type EngineFactory func() (IoEngine, error)

// Runtime owns a fixed pool of Workers, each paired with the goroutine
// standing in for its OS thread (spec.md §4.5 / §2).
type Runtime struct {
	id  uuid.UUID
	log zerolog.Logger

	rng     *xorShift32
	rngMu   sync.Mutex
	workers []*Worker

	stopping atomic.Bool
	wg       sync.WaitGroup
	started  bool
}

// NewRuntime creates a Runtime with nThreads workers (0 means "use
// reported hardware concurrency", per spec.md §4.5) sharing IoEngines
// produced by newEngine. Worker OS threads are not started yet, call
// Run for that.
func NewRuntime(nThreads int, newEngine EngineFactory) (*Runtime, error) {
	if nThreads <= 0 {
		nThreads = stdruntime.NumCPU()
	}
	if nThreads <= 0 {
		nThreads = 1
	}

	id := uuid.New()
	log := zerolog.New(zerolog.NewConsoleWriter()).With().
		Timestamp().
		Str("runtime_id", id.String()).
		Logger()

	seed, err := newEngine()
	if err != nil {
		return nil, newErr(ErrOS, "Runtime.create", err)
	}

	workers := make([]*Worker, nThreads)
	workers[0] = newWorker(0, seed, log)
	for i := 1; i < nThreads; i++ {
		eng, err := seed.Share()
		if err != nil {
			return nil, newErr(ErrOS, "Runtime.create", fmt.Errorf("share engine for worker %d: %w", i, err))
		}
		workers[i] = newWorker(i, eng, log)
	}

	for i, w := range workers {
		peers := make([]*Worker, 0, len(workers)-1)
		for j, p := range workers {
			if j != i {
				peers = append(peers, p)
			}
		}
		w.peers = peers
	}

	return &Runtime{
		id:      id,
		log:     log,
		rng:     newXorShift32(0xc0ffee ^ uint32(nThreads)),
		workers: workers,
	}, nil
}

// NumWorkers returns the number of workers in the pool.
func (r *Runtime) NumWorkers() int { return len(r.workers) }

// Spawn schedules fn on a randomly chosen worker from outside any task
// (spec.md §4.5 / §6). If the chosen worker is idle in its wake-up wait,
// spawnExternal's nudge rouses it; if it is blocked in IoEngine.Wait
// (it has tasks parked on I/O), the nudge does not interrupt that wait,
// and the task runs only after Wait returns, within ioDrainInterval.
func (r *Runtime) Spawn(fn func(context.Context)) {
	if r.stopping.Load() {
		r.log.Warn().Msg("Spawn called on a shutting-down runtime; task dropped")
		return
	}

	r.rngMu.Lock()
	idx := r.rng.intn(len(r.workers))
	r.rngMu.Unlock()

	parent := withRuntime(context.Background(), r)
	r.workers[idx].spawnExternal(parent, fn)
}

// Run starts an OS thread (a runtime.LockOSThread'd goroutine) for every
// worker after index 0, then runs worker 0's loop on the calling
// goroutine. All N workers, including worker 0, are tracked by r.wg so
// Shutdown can tell when every loop, not just N-1 of them, has actually
// returned before touching worker state. Run returns once every worker's
// loop has returned, which happens only after Shutdown is called from
// another goroutine.
func (r *Runtime) Run() error {
	r.started = true
	r.wg.Add(len(r.workers))
	for i := 1; i < len(r.workers); i++ {
		w := r.workers[i]
		go func() {
			defer r.wg.Done()
			stdruntime.LockOSThread()
			defer stdruntime.UnlockOSThread()
			w.run()
		}()
	}

	stdruntime.LockOSThread()
	defer stdruntime.UnlockOSThread()
	r.workers[0].run()
	r.wg.Done()

	r.wg.Wait()
	return nil
}

// Shutdown signals every worker to stop once its deque and parked I/O
// both drain, then waits (bounded by ctx) for all worker loops, and
// Run, to return, finally releasing every retired task's goroutine.
// A worker with tasks still parked on I/O keeps running until those
// complete; if ctx ends first, Shutdown returns an ErrShutdown error and
// leaves the workers and their parked tasks running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.stopping.CompareAndSwap(false, true) {
		return nil
	}

	for _, w := range r.workers {
		w.stopping.Store(true)
		w.wake.nudge()
	}

	done := make(chan struct{})
	go func() {
		if r.started {
			r.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return newErr(ErrShutdown, "Runtime.Shutdown", ctx.Err())
	}

	for _, w := range r.workers {
		w.shutdown()
		_ = w.io.Close()
	}
	return nil
}
