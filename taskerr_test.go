package taskrt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrTestSuite struct {
	suite.Suite
}

func TestErrTestSuite(t *testing.T) {
	suite.Run(t, new(ErrTestSuite))
}

func (ts *ErrTestSuite) TestErrorMessageIncludesCauseWhenPresent() {
	cause := errors.New("boom")
	err := newErr(ErrOS, "Runtime.create", cause)
	ts.Contains(err.Error(), "Runtime.create")
	ts.Contains(err.Error(), "os_error")
	ts.Contains(err.Error(), "boom")
}

func (ts *ErrTestSuite) TestErrorMessageOmitsCauseWhenNil() {
	err := newErr(ErrShutdown, "Runtime.Shutdown", nil)
	ts.NotContains(err.Error(), "<nil>")
}

func (ts *ErrTestSuite) TestUnwrapExposesCause() {
	cause := errors.New("underlying")
	err := newErr(ErrConnReset, "Socket.SendAll", cause)
	ts.Same(cause, errors.Unwrap(err))
}

func (ts *ErrTestSuite) TestIsMatchesByCodeRegardlessOfOpOrCause() {
	err := newErr(ErrShutdown, "Runtime.Spawn", errors.New("runtime stopped"))
	ts.True(errors.Is(err, ErrRuntimeShutdown))
}

func (ts *ErrTestSuite) TestIsRejectsDifferentCode() {
	err := newErr(ErrOS, "Runtime.create", nil)
	ts.False(errors.Is(err, ErrRuntimeShutdown))
}
