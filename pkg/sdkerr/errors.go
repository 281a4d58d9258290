// Package sdkerr defines the error kinds surfaced by the feed client.
//
// Every failure that leaves a feed component is either one of the kinds
// below or an unwrapped transport error returned after retries ran out.
package sdkerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindConfig reports an invalid setup, such as a malformed token or a
	// missing credential field.
	KindConfig Kind = "CONFIG"
	// KindIdentity reports a non-2xx answer from the token or revoke endpoints.
	KindIdentity Kind = "IDENTITY"
	// KindParser reports a malformed JSON body where one was expected.
	KindParser Kind = "PARSER"
	// KindApplicationFramework reports a non-2xx answer from the data-plane API.
	KindApplicationFramework Kind = "APPLICATION_FRAMEWORK"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindParser}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Config builds a KindConfig error.
func Config(op, msg string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Msg: msg, Err: err}
}

// Identity builds a KindIdentity error.
func Identity(op, msg string, err error) *Error {
	return &Error{Kind: KindIdentity, Op: op, Msg: msg, Err: err}
}

// Parser builds a KindParser error.
func Parser(op, msg string, err error) *Error {
	return &Error{Kind: KindParser, Op: op, Msg: msg, Err: err}
}

// ApplicationFrameworkError is returned when the API answers with a non-2xx
// status and a JSON body. Body holds the raw document; ErrorCode and
// ErrorMessage are lifted from it when present.
type ApplicationFrameworkError struct {
	StatusCode   int
	Body         json.RawMessage
	ErrorCode    string
	ErrorMessage string
}

// NewApplicationFramework parses the machine-readable fields out of body.
func NewApplicationFramework(status int, body json.RawMessage) *ApplicationFrameworkError {
	e := &ApplicationFrameworkError{StatusCode: status, Body: body}

	var fields struct {
		ErrorCode    any    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		if fields.ErrorCode != nil {
			e.ErrorCode = fmt.Sprint(fields.ErrorCode)
		}
		e.ErrorMessage = fields.ErrorMessage
		if e.ErrorMessage == "" {
			e.ErrorMessage = fields.Message
		}
	}
	return e
}

func (e *ApplicationFrameworkError) Error() string {
	switch {
	case e.ErrorCode != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: status %d: %s (%s)", KindApplicationFramework, e.StatusCode, e.ErrorMessage, e.ErrorCode)
	case e.ErrorMessage != "":
		return fmt.Sprintf("%s: status %d: %s", KindApplicationFramework, e.StatusCode, e.ErrorMessage)
	default:
		return fmt.Sprintf("%s: status %d: %s", KindApplicationFramework, e.StatusCode, string(e.Body))
	}
}

// Kind reports KindApplicationFramework.
func (e *ApplicationFrameworkError) Kind() Kind { return KindApplicationFramework }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	var afe *ApplicationFrameworkError
	if errors.As(err, &afe) {
		return KindApplicationFramework, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
