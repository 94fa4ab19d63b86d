// Package netio provides concrete IoEngine implementations and a small
// Socket helper for programs built on top of github.com/go-foundations/taskrt.
//
// The scheduler core treats IoEngine purely as an interface (spec.md §6);
// concrete socket transport is explicitly out of scope for the core. This
// package is the reference implementation that makes the echo-server
// end-to-end scenarios in spec.md §8 (4 and 5) runnable:
//
//   - ChannelEngine is the portable default: each async socket operation
//     runs on its own helper goroutine and posts a CompletionEvent on a
//     shared channel standing in for a completion port. It works on every
//     platform Go supports.
//   - EpollEngine (Linux only, engine_linux.go) is a second, independent
//     IoEngine backed by a real epoll instance and an eventfd wake-up
//     handle, grounded on the epoll/eventfd pattern in
//     joeycumines-go-utilpkg's eventloop package. It operates on raw file
//     descriptors; Socket registers a connection's own fd with it
//     directly (see socket.go's rawFDCapable path) instead of the
//     helper-goroutine path ChannelEngine needs.
package netio
