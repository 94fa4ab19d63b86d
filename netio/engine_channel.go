package netio

import (
	"time"

	"github.com/go-foundations/taskrt"
)

// ChannelEngine is a portable IoEngine: every async operation submitted
// through Socket runs on its own helper goroutine (letting the Go
// runtime's own netpoller do the actual blocking work) and posts its
// CompletionEvent on a channel shared by every engine produced from the
// same seed via Share, the channel plays the role a real completion
// port's single underlying kernel object plays for its sibling engines.
type ChannelEngine struct {
	events chan taskrt.CompletionEvent
	closed chan struct{}
}

// NewChannelEngine returns a fresh ChannelEngine, suitable as the
// EngineFactory passed to NewRuntime.
func NewChannelEngine() (taskrt.IoEngine, error) {
	return &ChannelEngine{
		events: make(chan taskrt.CompletionEvent, 256),
		closed: make(chan struct{}),
	}, nil
}

// Register is a no-op for ChannelEngine: there is no separate
// registration step, since the "submission" of an operation is the
// helper goroutine Socket spawns to perform it (see socket.go's doAsync).
func (e *ChannelEngine) Register(taskrt.Handle, any) error { return nil }

// Wait blocks for up to timeout for at least one completion, then drains
// whatever else is immediately available without blocking further, up to
// len(events).
func (e *ChannelEngine) Wait(events []taskrt.CompletionEvent, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-e.events:
		events[0] = ev
	case <-timer.C:
		return 0, nil
	}

	n := 1
	for n < len(events) {
		select {
		case ev := <-e.events:
			events[n] = ev
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Share returns a sibling engine backed by the same completion channel,
// matching spec.md §4.5's "under a multi-worker, shared-completion-port
// OS this typically returns a reference to the same underlying port".
func (e *ChannelEngine) Share() (taskrt.IoEngine, error) {
	return &ChannelEngine{events: e.events, closed: e.closed}, nil
}

// Close is a no-op: the completion channel is shared by every sibling
// engine and must outlive any single one of them.
func (e *ChannelEngine) Close() error { return nil }

// post delivers a completion event. Used internally by Socket's async
// helpers; exported within the package only.
func (e *ChannelEngine) post(ev taskrt.CompletionEvent) {
	e.events <- ev
}
