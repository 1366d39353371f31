// ABOUTME: Error types raised by command checks and handlers
// ABOUTME: The router's error boundary decides how each one is shown to users

package fragment

import (
	"errors"
	"fmt"
)

// ErrCommandExists is returned when two commands share a name.
var ErrCommandExists = errors.New("command already registered")

// ErrUsage tells the boundary to reply with the command's usage line.
var ErrUsage = errors.New("invalid usage")

// CheckFailure is returned when a command predicate rejects an invocation.
type CheckFailure struct {
	Command string
}

func (e *CheckFailure) Error() string {
	return fmt.Sprintf("the check functions for command %s failed", e.Command)
}

// UserError is a message meant for the person who ran the command.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string {
	return e.Msg
}

// Errorf builds a UserError.
func Errorf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// panicError carries a recovered panic through the error boundary.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
