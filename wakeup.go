package taskrt

import "time"

// wakeupSource lets an idle worker (one with no tasks parked on I/O,
// waiting out its 20ms polling epoch) be nudged early when a spawn hands
// it new work. A worker blocked in IoEngine.Wait is not woken by it.
//
// The portable implementation here is a buffered channel standing in for
// a self-pipe/eventfd trick like the one package netio's Linux engine
// exposes through EpollEngine.Wake (see netio/engine_linux.go, grounded
// on joeycumines-go-utilpkg/eventloop/wakeup_linux.go).
type wakeupSource interface {
	// wait blocks for up to d, returning early if nudge is called.
	wait(d time.Duration)
	// nudge wakes a pending wait, or primes the next one if none is
	// pending. Safe to call from any goroutine.
	nudge()
}

type chanWakeupSource struct {
	ch chan struct{}
}

func newChanWakeupSource() *chanWakeupSource {
	return &chanWakeupSource{ch: make(chan struct{}, 1)}
}

func (w *chanWakeupSource) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ch:
	case <-timer.C:
	}
}

func (w *chanWakeupSource) nudge() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}
