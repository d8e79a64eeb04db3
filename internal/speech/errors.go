package speech

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

type Code string

const (
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeEngineUnavailable    Code = "ENGINE_UNAVAILABLE"
	// CodeProtocolViolation is only ever logged; it never reaches a caller.
	CodeProtocolViolation Code = "PROTOCOL_VIOLATION"
)

// Error is returned synchronously by controller operations.
type Error struct {
	Code    Code
	Op      string // ex: "speech.Start"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ToLower(string(e.Code)))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(code Code, op, msg string, err error) error {
	return &Error{Code: code, Op: op, Message: msg, Err: err}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ParseLanguage validates a BCP47 tag.
func ParseLanguage(tag string) (language.Tag, error) {
	const op = "speech.ParseLanguage"
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return language.Und, E(CodeInvalidArgument, op, "language tag is empty", nil)
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Und, E(CodeInvalidArgument, op, fmt.Sprintf("invalid language tag %q", tag), err)
	}
	return t, nil
}
