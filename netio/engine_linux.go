//go:build linux

package netio

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-foundations/taskrt"
)

// epollShared is the state every sibling produced by EpollEngine.Share
// points at: one epoll instance and one eventfd wake-up handle, mirroring
// how a single Windows IOCP handle backs every Share()'d IoEngine in
// original_source/rt/io_engine.cpp. Grounded on the epoll_create1 +
// eventfd pairing in
// joeycumines-go-utilpkg/eventloop/{poller_linux.go,wakeup_linux.go}.
type epollShared struct {
	epfd   int
	wakeFd int

	mu      sync.Mutex
	ctxByFd map[int32]any
}

// EpollEngine is a real completion-style IoEngine for Linux, registering
// raw file descriptors with epoll, with an eventfd that Wake uses to
// rouse a goroutine parked in Wait.
// It operates directly on Handle (a raw fd); package netio's Socket
// registers a connection's own fd with it via the rawFDCapable path in
// socket.go, rather than the helper-goroutine path ChannelEngine needs.
type EpollEngine struct {
	shared *epollShared
}

// fdBacked marks EpollEngine as rawFDCapable (see socket.go): its
// completions are keyed by a real file descriptor Handle, not a posted
// ad hoc event, so Socket can register fds directly instead of running a
// helper goroutine per operation.
func (e *EpollEngine) fdBacked() {}

// NewEpollEngine creates a fresh epoll instance plus its wake-up eventfd.
func NewEpollEngine() (taskrt.IoEngine, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	wakeEv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &wakeEv); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &EpollEngine{shared: &epollShared{
		epfd:    epfd,
		wakeFd:  wakeFd,
		ctxByFd: make(map[int32]any),
	}}, nil
}

// Register arms fd for read/write readiness, one-shot (EPOLLONESHOT),
// matching the runtime's "one-shot association" contract for
// Task.RegisterIO, a second Register after the first fires requires a
// fresh EpollCtl, which callers get for free by calling Register again.
func (e *EpollEngine) Register(h taskrt.Handle, ctx any) error {
	fd := int32(h)

	e.shared.mu.Lock()
	_, exists := e.shared.ctxByFd[fd]
	e.shared.ctxByFd[fd] = ctx
	e.shared.mu.Unlock()

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLONESHOT | unix.EPOLLERR | unix.EPOLLHUP,
		Fd:     fd,
	}

	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(e.shared.epfd, op, int(fd), &ev)
	if err == unix.EEXIST {
		// Wait already consumed this fd's previous one-shot registration;
		// the fd is still in the epoll set, disarmed, so re-arm it.
		err = unix.EpollCtl(e.shared.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
	}
	return err
}

// Wait blocks for up to timeout for epoll readiness events, translating
// each into a CompletionEvent; the wake-up eventfd is drained silently
// and never surfaced as a completion.
func (e *EpollEngine) Wait(events []taskrt.CompletionEvent, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	raw := make([]unix.EpollEvent, len(events)+1) // +1: room for the wake fd
	n, err := unix.EpollWait(e.shared.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(events); i++ {
		fd := raw[i].Fd
		if int(fd) == e.shared.wakeFd {
			var buf [8]byte
			_, _ = unix.Read(e.shared.wakeFd, buf[:])
			continue
		}

		e.shared.mu.Lock()
		ctx, ok := e.shared.ctxByFd[fd]
		delete(e.shared.ctxByFd, fd)
		e.shared.mu.Unlock()
		if !ok {
			continue
		}

		result := int64(0)
		var evErr error
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			result = -1
			evErr = fmt.Errorf("netio: epoll: fd %d reported EPOLLERR/EPOLLHUP", fd)
		}
		events[count] = taskrt.CompletionEvent{Context: ctx, Result: result, Err: evErr}
		count++
	}

	return count, nil
}

// Share returns a sibling engine pointing at the same epoll instance and
// wake-up eventfd, Linux's epoll fd may be waited on (via epoll_wait)
// from multiple threads concurrently, so this is a true shared-port
// share, not a sibling instance.
func (e *EpollEngine) Share() (taskrt.IoEngine, error) {
	return &EpollEngine{shared: e.shared}, nil
}

// Close releases the epoll and eventfd descriptors shared by every
// sibling. The first Close on any sibling releases them; later Close
// calls on any sibling return nil. No sibling may be used afterward.
func (e *EpollEngine) Close() error {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epfd < 0 {
		return nil
	}
	_ = unix.Close(s.wakeFd)
	err := unix.Close(s.epfd)
	s.epfd, s.wakeFd = -1, -1
	return err
}

// Wake posts to the eventfd, rousing any goroutine currently blocked in
// Wait. The runtime's scheduler does not call it; it is available to
// callers that hold the engine.
func (e *EpollEngine) Wake() error {
	buf := [8]byte{1}
	_, err := unix.Write(e.shared.wakeFd, buf[:])
	return err
}
