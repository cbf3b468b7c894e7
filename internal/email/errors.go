package email

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations that need an authenticated session
	ErrNotConnected = errors.New("imap session is not connected")
	// ErrInvalidUID is returned, before any network traffic, for UIDs that are not positive integers
	ErrInvalidUID = errors.New("invalid message uid")
	// ErrMessageNotFound is returned when the server has no message for a UID
	ErrMessageNotFound = errors.New("message not found")
)

// ConnectError reports a transport or authentication failure. The
// operation that produced it has no partial result.
type ConnectError struct {
	Op  string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SelectError reports that the server rejected a folder selection
type SelectError struct {
	Folder string
	Err    error
}

func (e *SelectError) Error() string {
	return fmt.Sprintf("failed to select folder %s: %v", e.Folder, e.Err)
}

func (e *SelectError) Unwrap() error { return e.Err }

// CommandError reports that the server rejected a command. The session stays usable.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is a connection or authentication failure
func IsConnectivity(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce) || errors.Is(err, ErrNotConnected)
}

// IsSelection reports whether err is a rejected folder selection
func IsSelection(err error) bool {
	var se *SelectError
	return errors.As(err, &se)
}
