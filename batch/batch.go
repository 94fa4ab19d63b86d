// Package batch offers a generic job/result facade over the cooperative
// task runtime: give it a Processor and a slice of Jobs, it spawns one
// task per job onto a real Runtime and collects Results as they finish.
//
// Distribution used to be the caller's choice (round-robin, chunking, a
// hand-rolled deque, a priority heap). None of that is needed anymore:
// every job becomes a task on taskrt's own Chase-Lev work-stealing
// deques, so idle workers pull work from busy ones automatically. The
// only distribution knob left is NumWorkers.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-foundations/taskrt"
	"github.com/go-foundations/taskrt/netio"
)

// Job represents a unit of work to be processed.
type Job[T any] struct {
	ID       string
	Data     T
	Priority int
	Created  time.Time
}

// Result wraps the outcome of processing a Job.
type Result[R any] struct {
	JobID     string
	Data      R
	Error     error
	Started   time.Time
	Completed time.Time
	Duration  time.Duration
}

// Processor does the actual work for one job. It receives the task's
// own context, so it may call taskrt.Yield, taskrt.BlockOnIO, or bind
// netio sockets via taskrt.Engine if it needs to.
type Processor[T any, R any] func(ctx context.Context, job Job[T]) (R, error)

// Config configures a Pool's Runtime and retry behavior.
type Config struct {
	NumWorkers int           // worker OS threads; 0 means hardware concurrency
	Timeout    time.Duration // overall deadline for Run
	MaxRetries int           // retry attempts per job on processor error
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers: 4,
		Timeout:    5 * time.Minute,
		MaxRetries: 0,
	}
}

// Metrics summarizes one Run.
type Metrics struct {
	TotalJobs       int
	ProcessedJobs   int
	FailedJobs      int
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Pool runs a batch of jobs through a taskrt.Runtime.
type Pool[T any, R any] struct {
	config    Config
	processor Processor[T, R]
	jobs      []Job[T]
	metrics   Metrics
}

// New creates a Pool with default configuration.
func New[T any, R any]() *Pool[T, R] {
	return NewWithConfig[T, R](DefaultConfig())
}

// NewWithConfig creates a Pool with custom configuration.
func NewWithConfig[T any, R any](config Config) *Pool[T, R] {
	if config.NumWorkers < 0 {
		config.NumWorkers = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &Pool[T, R]{config: config}
}

// WithProcessor sets the function that processes each job.
func (p *Pool[T, R]) WithProcessor(fn Processor[T, R]) *Pool[T, R] {
	p.processor = fn
	return p
}

// AddJobs appends jobs to the pool, stamping Created on any that lack it.
func (p *Pool[T, R]) AddJobs(jobs []Job[T]) *Pool[T, R] {
	now := time.Now()
	for _, j := range jobs {
		if j.Created.IsZero() {
			j.Created = now
		}
		p.jobs = append(p.jobs, j)
	}
	return p
}

// AddJob appends a single job to the pool.
func (p *Pool[T, R]) AddJob(job Job[T]) *Pool[T, R] {
	return p.AddJobs([]Job[T]{job})
}

// NumWorkers returns the configured worker count.
func (p *Pool[T, R]) NumWorkers() int { return p.config.NumWorkers }

// Metrics returns a copy of the metrics from the most recent Run.
func (p *Pool[T, R]) Metrics() Metrics { return p.metrics }

// Run spawns every job onto a fresh Runtime as its own task, waits for
// them all to finish or for the configured Timeout to elapse, and
// returns their Results in completion order.
func (p *Pool[T, R]) Run() ([]Result[R], error) {
	if p.processor == nil {
		return nil, fmt.Errorf("batch: no processor configured")
	}
	if len(p.jobs) == 0 {
		return nil, fmt.Errorf("batch: no jobs to process")
	}

	rt, err := taskrt.NewRuntime(p.config.NumWorkers, netio.NewChannelEngine)
	if err != nil {
		return nil, fmt.Errorf("batch: create runtime: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = rt.Run()
	}()

	results := make(chan Result[R], len(p.jobs))
	var wg sync.WaitGroup
	wg.Add(len(p.jobs))

	for _, job := range p.jobs {
		job := job
		rt.Spawn(func(taskCtx context.Context) {
			defer wg.Done()
			results <- p.runOne(taskCtx, job)
		})
	}

	collected := make(chan []Result[R], 1)
	go func() {
		wg.Wait()
		close(results)
		out := make([]Result[R], 0, len(p.jobs))
		for r := range results {
			out = append(out, r)
		}
		collected <- out
	}()

	var out []Result[R]
	select {
	case out = <-collected:
	case <-ctx.Done():
		_ = rt.Shutdown(ctx)
		<-runDone
		return nil, fmt.Errorf("batch: %w", ctx.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = rt.Shutdown(shutdownCtx)
	<-runDone

	p.metrics = Metrics{TotalJobs: len(p.jobs)}
	for _, r := range out {
		p.metrics.TotalDuration += r.Duration
		if r.Error != nil {
			p.metrics.FailedJobs++
		} else {
			p.metrics.ProcessedJobs++
		}
	}
	if p.metrics.ProcessedJobs > 0 {
		p.metrics.AverageDuration = p.metrics.TotalDuration / time.Duration(p.metrics.ProcessedJobs)
	}

	return out, nil
}

// runOne processes a single job with retries, running entirely on the
// calling task so the processor may yield or block on I/O freely.
func (p *Pool[T, R]) runOne(ctx context.Context, job Job[T]) Result[R] {
	started := time.Now()

	var data R
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		data, err = p.processor(ctx, job)
		if err == nil {
			break
		}
		if attempt < p.config.MaxRetries {
			taskrt.Yield(ctx)
		}
	}

	completed := time.Now()
	return Result[R]{
		JobID:     job.ID,
		Data:      data,
		Error:     err,
		Started:   started,
		Completed: completed,
		Duration:  completed.Sub(started),
	}
}
