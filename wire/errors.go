package wire

import "fmt"

// Error is an optional message layered over an optional cause,
// unwrappable with errors.Is/As.
type Error struct {
	msg string
	err error
}

func (e Error) Error() string {
	if e.msg != "" {
		if e.err != nil {
			return e.msg + ": " + e.err.Error()
		}
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e Error) Unwrap() error {
	return e.err
}

func wrapErr(msg string, e error) error {
	if e == nil {
		return nil
	}
	return Error{msg: msg, err: e}
}

// ErrInvalidLine is returned when a line does not match any recognized
// shape for the context it was parsed in.
var ErrInvalidLine = Error{msg: "invalid line"}

// TagMismatchError is a hard parse error: a polled reading's leading TAG
// byte did not match the TAG the caller expected.
type TagMismatchError struct {
	Expected byte
	Got      byte
}

func (e TagMismatchError) Error() string {
	return fmt.Sprintf("tag mismatch: expected %q, got %q", e.Expected, e.Got)
}

// UnknownErrorBannerError wraps one of the device's fixed error strings,
// tagged by the symbolic name assigned to it.
type UnknownErrorBannerError struct {
	Tag  string
	Text string
}

func (e UnknownErrorBannerError) Error() string {
	return fmt.Sprintf("device error banner [%s]: %s", e.Tag, e.Text)
}
