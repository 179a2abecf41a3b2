package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates that the IMAP server rejected the credentials.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Window is an inclusive range of message UIDs searched in one pass.
type Window struct {
	Start uint32
	End   uint32
}

// NewWindow returns the window of size UIDs starting at start.
func NewWindow(start, size uint32) Window {
	if start == 0 {
		start = 1
	}
	if size == 0 {
		size = 1
	}
	return Window{Start: start, End: start + size - 1}
}

// Next returns the adjacent window of the same size. Windows never overlap.
func (w Window) Next() Window {
	return NewWindow(w.End+1, w.Size())
}

// Size is the number of UIDs the window covers.
func (w Window) Size() uint32 {
	return w.End - w.Start + 1
}

func (w Window) String() string {
	return fmt.Sprintf("%d:%d", w.Start, w.End)
}

// Criteria selects candidate messages: unseen, matching Subject, inside Window.
type Criteria struct {
	Subject string
	Window  Window
}

// Message is one candidate activation email.
type Message struct {
	UID uint32

	// To is the destination address taken from the TO header.
	To string

	// Text is the raw TEXT body part.
	Text string
}
