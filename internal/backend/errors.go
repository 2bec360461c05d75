package backend

import (
	"errors"
	"fmt"
)

// ErrAuthMissing is returned before any request when the session has no
// usable credentials.
var ErrAuthMissing = errors.New("no valid session; create or reset the session")

// RejectionError is a non-success answer from the backend. Message is the
// server's text, suitable for showing to the user verbatim.
type RejectionError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// NetworkError wraps a transport or decoding failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UserMessage converts err into a status line. Rejections keep the server
// text; transport failures get a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rej *RejectionError
	var netErr *NetworkError
	switch {
	case errors.Is(err, ErrAuthMissing):
		return "No valid session. Enter a username to start one."
	case errors.As(err, &rej):
		return rej.Message
	case errors.As(err, &netErr):
		return "Could not reach the chat service. Check your connection and try again."
	default:
		return err.Error()
	}
}
