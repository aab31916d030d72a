// Package errors provides the coded error type used throughout the chainstate engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a coded error with an optional wrapped cause and structured data. Two errors match
// under Is when their codes are equal, so the predefined Err* values act as sentinels.
type Error struct {
	code       ERR
	message    string
	wrappedErr error
	data       ErrDataI
}

type Interface interface {
	Error() string
	Is(target error) bool
	As(target interface{}) bool
	Unwrap() error

	Code() ERR
	Message() string
	WrappedErr() error
	Data() ErrDataI
}

// Error formats as "CODE (n): message[, data: ...][ -> wrapped]".
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "%s (%d): %s", e.code, e.code, e.message)

	if e.data != nil {
		if dataMsg := e.data.Error(); dataMsg != "" {
			sb.WriteString(", data: ")
			sb.WriteString(dataMsg)
		}
	}

	if e.wrappedErr != nil {
		sb.WriteString(" -> ")
		sb.WriteString(e.wrappedErr.Error())
	}

	return sb.String()
}

// Is matches a target *Error by code, anywhere along the chain of coded errors that e wraps.
// Non-coded targets such as context.Canceled are left to errors.Is, which keeps unwrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}

	for c := e; c != nil; {
		if c.code == t.code {
			return true
		}

		next, ok := c.wrappedErr.(*Error)
		if !ok {
			return false
		}

		c = next
	}

	return false
}

// As fills a **Error target with e, or an error-typed target from the attached data.
func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}

	if data, ok := e.data.(error); ok {
		return errors.As(data, target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func (e *Error) WrappedErr() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Data() ErrDataI {
	if e == nil {
		return nil
	}

	return e.data
}

// WithData attaches structured data to the error and returns it.
func (e *Error) WithData(data ErrDataI) *Error {
	e.data = data
	return e
}

func (e *Error) SetData(key string, value interface{}) {
	if e.data == nil {
		e.data = &ErrData{}
	}

	e.data.SetData(key, value)
}

func (e *Error) GetData(key string) interface{} {
	if e.data == nil {
		return nil
	}

	return e.data.GetData(key)
}

// New creates a coded error. If the last param is an error it becomes the wrapped error; the
// remaining params are applied to message as format args.
//
// Parameters:
//   - code: one of the ERR codes; an unknown code keeps the code with the message "invalid error code"
//   - message: format string
//   - params: format args, optionally followed by the error to wrap
//
// Returns:
//   - *Error: never nil
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if n := len(params); n > 0 {
		if err, ok := params[n-1].(error); ok {
			if e, isCoded := err.(*Error); !isCoded || e != nil {
				wrapped = err
			}

			params = params[:n-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, ok := ERR_name[int32(code)]; !ok {
		message = "invalid error code"
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wrapped,
	}
}

// Join returns an error wrapping every non-nil err, or nil when there are none.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// AsData walks the coded errors of the chain and reports whether any carries data assignable
// to target.
func AsData(err error, target interface{}) bool {
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			return false
		}

		if e.data != nil && errors.As(e.data, target) {
			return true
		}

		err = e.wrappedErr
	}

	return false
}
