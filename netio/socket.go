package netio

import (
	"context"
	"fmt"
	"net"

	"github.com/go-foundations/taskrt"
)

// rawFDCapable is implemented by IoEngine backends that key completions by
// a real file descriptor Handle rather than an ad hoc posted event (see
// engine_linux.go's EpollEngine), letting Socket register the connection's
// own fd instead of running a helper goroutine per operation.
type rawFDCapable interface {
	taskrt.IoEngine
	fdBacked()
}

// Socket is a cooperative-scheduling-friendly wrapper over a TCP listener
// or connection: every blocking call parks the calling task (via
// taskrt.BlockOnIO) instead of blocking its goroutine, so a worker's
// other ready tasks keep running while the operation is outstanding.
//
// Grounded on original_source/rt/socket.{hpp,cpp}'s accept/send/recv/
// shutdown surface; the IpAddr/Port pair from that header is replaced by
// a plain "host:port" string, Go's idiomatic address form.
type Socket struct {
	ln     net.Listener
	conn   net.Conn
	engine taskrt.IoEngine
}

// Bind creates a listening TCP socket on addr (host:port), the Go
// analogue of Socket::bind in original_source/rt/socket.cpp (which also
// folds in WSASocket creation + listen(), combined here into net.Listen).
// engine must be a *ChannelEngine or a rawFDCapable engine such as
// *EpollEngine.
func Bind(engine taskrt.IoEngine, addr string) (*Socket, error) {
	switch engine.(type) {
	case *ChannelEngine:
	case rawFDCapable:
	default:
		return nil, fmt.Errorf("netio: Bind requires a *ChannelEngine or a raw-fd-capable engine, got %T", engine)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Socket{ln: ln, engine: engine}, nil
}

// doAsync runs op so that the calling task parks (via taskrt.BlockOnIO)
// until it completes instead of blocking its goroutine. Against a
// rawFDCapable engine it registers the socket's own fd and lets the
// engine's real readiness/completion notification wake the task; against
// ChannelEngine it runs op on a helper goroutine and posts the result as
// a CompletionEvent, since ChannelEngine has no fd of its own to wait on.
// If called outside any task (e.g. from a plain test goroutine), op runs
// synchronously instead.
func (s *Socket) doAsync(ctx context.Context, op func() (int, error)) (int, error) {
	if taskrt.CurrentTask(ctx) == nil {
		return op()
	}

	if _, ok := s.engine.(rawFDCapable); ok {
		return s.doAsyncFD(ctx, op)
	}
	return s.doAsyncChannel(ctx, op)
}

// doAsyncChannel is ChannelEngine's path: op runs on a helper goroutine
// (letting the Go runtime's own netpoller do the actual blocking work)
// and its result is posted as a CompletionEvent, picked up by IOResult
// once BlockOnIO returns.
func (s *Socket) doAsyncChannel(ctx context.Context, op func() (int, error)) (int, error) {
	t := taskrt.CurrentTask(ctx)
	ce := s.engine.(*ChannelEngine)
	go func() {
		n, err := op()
		ce.post(taskrt.CompletionEvent{Context: t, Result: int64(n), Err: err})
	}()
	taskrt.BlockOnIO(ctx)
	n, err := taskrt.IOResult(ctx)
	return int(n), err
}

// doAsyncFD is the rawFDCapable path: it registers the socket's own file
// descriptor with the owning worker's engine, parks until that engine's
// Wait reports readiness (or an error) for it, then runs op. The engine
// may report readiness in either direction (EpollEngine arms read and
// write together), so op can still block its goroutine, e.g. a read
// woken by write readiness.
func (s *Socket) doAsyncFD(ctx context.Context, op func() (int, error)) (int, error) {
	fd, err := s.rawFD()
	if err != nil {
		return 0, err
	}

	if err := taskrt.RegisterIO(ctx, taskrt.Handle(fd)); err != nil {
		return 0, err
	}
	taskrt.BlockOnIO(ctx)

	if _, ioErr := taskrt.IOResult(ctx); ioErr != nil {
		return 0, newIOCompletionErr("Socket.doAsyncFD", ioErr)
	}
	return op()
}

// rawFD returns the underlying file descriptor of whichever of conn/ln is
// set, for handing to a rawFDCapable engine's Register.
func (s *Socket) rawFD() (int, error) {
	var sc interface {
		Control(f func(fd uintptr)) error
	}

	switch {
	case s.conn != nil:
		tc, ok := s.conn.(*net.TCPConn)
		if !ok {
			return 0, fmt.Errorf("netio: raw-fd engine requires a *net.TCPConn")
		}
		raw, err := tc.SyscallConn()
		if err != nil {
			return 0, err
		}
		sc = raw
	case s.ln != nil:
		tl, ok := s.ln.(*net.TCPListener)
		if !ok {
			return 0, fmt.Errorf("netio: raw-fd engine requires a *net.TCPListener")
		}
		raw, err := tl.SyscallConn()
		if err != nil {
			return 0, err
		}
		sc = raw
	default:
		return 0, fmt.Errorf("netio: socket has no underlying file descriptor")
	}

	var fd int
	if err := sc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}

// Accept waits for and returns the next inbound connection.
func (s *Socket) Accept(ctx context.Context) (*Socket, error) {
	var conn net.Conn
	_, err := s.doAsync(ctx, func() (int, error) {
		c, err := s.ln.Accept()
		conn = c
		return 0, err
	})
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn, engine: s.engine}, nil
}

// Send writes data and returns the number of bytes written, which may be
// less than len(data), see SendAll for a loop that handles that.
func (s *Socket) Send(ctx context.Context, data []byte) (int, error) {
	return s.doAsync(ctx, func() (int, error) { return s.conn.Write(data) })
}

// SendAll writes data in full, mapping a mid-write peer close to
// taskrt's ErrConnReset, mirroring socket.cpp's send_all.
func (s *Socket) SendAll(ctx context.Context, data []byte) error {
	sent := 0
	for sent < len(data) {
		n, err := s.Send(ctx, data[sent:])
		if err != nil {
			return err
		}
		if n == 0 {
			return newConnReset("Socket.SendAll")
		}
		sent += n
	}
	return nil
}

// Recv reads up to len(buf) bytes, returning 0 with a nil error on a
// clean peer close (the Go `net.Conn` convention), matching socket.cpp's
// recv() contract that a caller distinguishes "0 bytes, no error" as
// end-of-stream.
func (s *Socket) Recv(ctx context.Context, buf []byte) (int, error) {
	n, err := s.doAsync(ctx, func() (int, error) { return s.conn.Read(buf) })
	if err != nil && isEOF(err) {
		return 0, nil
	}
	return n, err
}

// Shutdown half-closes the write side of the connection, or closes a
// listening socket outright.
func (s *Socket) Shutdown(ctx context.Context) error {
	_ = ctx
	if s.conn != nil {
		if tc, ok := s.conn.(*net.TCPConn); ok {
			return tc.CloseWrite()
		}
		return s.conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Close releases the socket's underlying OS resources immediately.
func (s *Socket) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
