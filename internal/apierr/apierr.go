// Package apierr defines the error kinds the API surface translates into
// HTTP responses, one dispatcher wide rather than scattered status codes.
package apierr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindUnauthorized
	KindTimeout
	KindInternal
)

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(detail string) error { return &Error{Kind: KindValidation, Detail: detail} }
func NotFound(detail string) error   { return &Error{Kind: KindNotFound, Detail: detail} }
func Conflict(detail string) error   { return &Error{Kind: KindConflict, Detail: detail} }
func Unauthorized(detail string) error {
	return &Error{Kind: KindUnauthorized, Detail: detail}
}
func Timeout(detail string) error { return &Error{Kind: KindTimeout, Detail: detail} }
func Internal(detail string, err error) error {
	return &Error{Kind: KindInternal, Detail: detail, Err: err}
}

// As extracts the Kind and detail message of err, if it (or something it
// wraps) is an *Error. Unrecognized errors are reported as KindInternal.
func As(err error) (Kind, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Detail
	}
	return KindInternal, "internal error"
}
