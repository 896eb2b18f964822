package lorawan

import (
	"errors"
	"fmt"
)

// Error kinds
var (
	ErrTruncatedFrame      = errors.New("truncated frame")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrUnsupportedVersion  = errors.New("unsupported LoRaWAN major version")
	ErrMissingKey          = errors.New("missing key")
	ErrCorruptSessionState = errors.New("corrupt session state")
	ErrDecryptUnavailable  = errors.New("decrypt unavailable")
	ErrInvalidWidth        = errors.New("invalid field width")
)

// Error carries an error kind together with the offending field.
// Use errors.Is against the kind sentinels and errors.As to read Field.
type Error struct {
	Err    error
	Field  string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether more input (a key, a later frame) could
// make the failed operation succeed.
func Recoverable(err error) bool {
	return errors.Is(err, ErrMissingKey) || errors.Is(err, ErrDecryptUnavailable)
}

func truncated(field string, need, have int) error {
	return &Error{Err: ErrTruncatedFrame, Field: field, Detail: fmt.Sprintf("need %d bytes, have %d", need, have)}
}
