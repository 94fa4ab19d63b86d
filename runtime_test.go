package taskrt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// memEngine is a minimal in-memory IoEngine for tests that don't exercise
// netio: Register just remembers the completion context per handle, and
// a test drives completion explicitly via complete().
type memEngine struct {
	mu       sync.Mutex
	ctxByH   map[Handle]any
	pending  []CompletionEvent
	resolved chan struct{}
}

func newMemEngine() *memEngine {
	return &memEngine{
		ctxByH:   make(map[Handle]any),
		resolved: make(chan struct{}, 1),
	}
}

func (e *memEngine) Register(h Handle, ctx any) error {
	e.mu.Lock()
	e.ctxByH[h] = ctx
	e.mu.Unlock()
	return nil
}

// complete simulates a real engine delivering a completion for a
// previously registered handle, the way a background I/O thread would.
func (e *memEngine) complete(h Handle) {
	e.mu.Lock()
	ctx, ok := e.ctxByH[h]
	delete(e.ctxByH, h)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.resolve(ctx)
}

func (e *memEngine) Wait(events []CompletionEvent, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.resolved:
	case <-timer.C:
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := copy(events, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func (e *memEngine) Share() (IoEngine, error) { return e, nil }

func (e *memEngine) Close() error { return nil }

func (e *memEngine) resolve(ctx any) {
	e.mu.Lock()
	e.pending = append(e.pending, CompletionEvent{Context: ctx, Result: 0})
	e.mu.Unlock()
	select {
	case e.resolved <- struct{}{}:
	default:
	}
}

func newMemEngineFactory() EngineFactory {
	return func() (IoEngine, error) { return newMemEngine(), nil }
}

type RuntimeTestSuite struct {
	suite.Suite
}

func TestRuntimeTestSuite(t *testing.T) {
	suite.Run(t, new(RuntimeTestSuite))
}

// TestPingPongYield is spec.md §8 scenario 1: two tasks on a single
// worker, each yielding back and forth a fixed number of times, must
// observe a strictly alternating interleaving.
func (ts *RuntimeTestSuite) TestPingPongYield() {
	rt, err := NewRuntime(1, newMemEngineFactory())
	ts.Require().NoError(err)

	var mu sync.Mutex
	var trace []string
	const rounds = 5
	var wg sync.WaitGroup
	wg.Add(2)

	rt.Spawn(func(ctx context.Context) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			mu.Lock()
			trace = append(trace, "a")
			mu.Unlock()
			Yield(ctx)
		}
	})
	rt.Spawn(func(ctx context.Context) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			mu.Lock()
			trace = append(trace, "b")
			mu.Unlock()
			Yield(ctx)
		}
	})

	go func() {
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	ts.Require().NoError(rt.Run())

	ts.Require().Len(trace, rounds*2)
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i+1 < len(trace); i++ {
		ts.NotEqual(trace[i], trace[i+1], "expected strictly alternating turns at index %d: %v", i, trace)
	}
}

// TestFanOutSpawn is spec.md §8 scenario 2: a large number of short tasks
// spawned across several workers must all run exactly once.
func (ts *RuntimeTestSuite) TestFanOutSpawn() {
	rt, err := NewRuntime(4, newMemEngineFactory())
	ts.Require().NoError(err)

	const n = 10000
	var completed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		rt.Spawn(func(ctx context.Context) {
			defer wg.Done()
			completed.Add(1)
		})
	}

	go func() {
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	ts.Require().NoError(rt.Run())
	ts.Equal(int64(n), completed.Load())
}

// TestWorkStealingLiveness is spec.md §8 scenario 3: one worker is handed
// a flood of tasks directly (via Spawn's random pick is not guaranteed to
// hit a single worker, so this seeds a lot of nested Spawn calls from a
// single root task on one worker, where idle peers may steal them, and
// checks that every one of them runs; which worker ran which task is not
// checked).
func (ts *RuntimeTestSuite) TestWorkStealingLiveness() {
	rt, err := NewRuntime(4, newMemEngineFactory())
	ts.Require().NoError(err)

	const n = 2000
	var completed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	rt.Spawn(func(ctx context.Context) {
		for i := 0; i < n; i++ {
			Spawn(ctx, func(context.Context) {
				defer wg.Done()
				completed.Add(1)
			})
		}
	})

	go func() {
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	ts.Require().NoError(rt.Run())
	ts.Equal(int64(n), completed.Load())
}

// TestBlockOnIOResumesOnCompletion is spec.md §8 scenario 6 in spirit: a
// task that blocks on I/O resumes, possibly on a different worker than it
// started on, once the engine reports its completion.
func (ts *RuntimeTestSuite) TestBlockOnIOResumesOnCompletion() {
	rt, err := NewRuntime(2, newMemEngineFactory())
	ts.Require().NoError(err)

	var wg sync.WaitGroup
	wg.Add(1)
	var resumed atomic.Bool

	rt.Spawn(func(ctx context.Context) {
		defer wg.Done()
		ts.Require().NoError(RegisterIO(ctx, Handle(1)))
		BlockOnIO(ctx)
		resumed.Store(true)
	})

	// Resolve the pending I/O shortly after spawning, from outside any
	// task, the way a real engine's background completion would. Share()
	// on memEngine returns the same instance, so this reaches the same
	// registration table every worker uses.
	me := rt.workers[0].io.(*memEngine)
	go func() {
		time.Sleep(20 * time.Millisecond)
		me.complete(Handle(1))
	}()

	go func() {
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	ts.Require().NoError(rt.Run())
	ts.True(resumed.Load())
}
