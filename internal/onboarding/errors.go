package onboarding

import (
	"errors"
	"strings"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

var (
	// ErrUserRejected is returned by a wallet when the user declines a
	// signature request.
	ErrUserRejected = domain.ErrUserRejected

	// ErrIllegalTransition is returned by a step's Apply for an event that is
	// not valid in the current phase.
	ErrIllegalTransition = errors.New("onboarding: illegal transition")
)

const (
	// MsgUserRejected is shown when the wallet request was declined.
	MsgUserRejected = "You rejected the signature request. Click the button to try again."
	// MsgUnexpected is shown when a failure carries no usable message.
	MsgUnexpected = "Something went wrong. Please try again."
)

// stepError tags a handler failure with the operation that failed. The step
// shows only the cause.
type stepError struct {
	op  string
	err error
}

func (e *stepError) Error() string { return "onboarding: " + e.op + ": " + e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

func stepFailed(op string, err error) error {
	return &stepError{op: op, err: err}
}

// errorMessage maps a handler failure to the text shown next to the step.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUserRejected) {
		return MsgUserRejected
	}
	var se *stepError
	if errors.As(err, &se) {
		err = se.err
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MsgUnexpected
}

// panicError converts a recovered panic value into an error. Values that are
// not errors carry no trustworthy message and map to MsgUnexpected.
func panicError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New(MsgUnexpected)
}
