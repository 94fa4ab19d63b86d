package netio

import (
	"errors"
	"io"

	"github.com/go-foundations/taskrt"
)

// errConnResetCause is wrapped as the Cause of the taskrt.ErrConnReset
// error SendAll raises when the peer closes mid-write, mirroring
// socket.cpp's std::error_code(WSAECONNRESET, ...).
var errConnResetCause = errors.New("connection reset by peer")

// newConnReset builds the taskrt.ErrConnReset-coded error SendAll returns
// on a mid-write peer close.
func newConnReset(op string) error {
	return taskrt.NewError(taskrt.ErrConnReset, op, errConnResetCause)
}

// newIOCompletionErr builds the taskrt.ErrIOCompletion-coded error
// wrapping a completion event that carried a non-zero status, per
// SPEC_FULL.md §7's error taxonomy.
func newIOCompletionErr(op string, cause error) error {
	return taskrt.NewError(taskrt.ErrIOCompletion, op, cause)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
