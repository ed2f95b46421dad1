// Package failure categorizes the errors produced while receiving and sending
// chat messages so callers can map them to HTTP statuses or exit codes without
// matching on error text.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Category is the stable classification of a failure.
type Category string

const (
	MalformedEncoding    Category = "malformed_encoding"
	UnsupportedMediaType Category = "unsupported_media_type"
	SchemaViolation      Category = "schema_violation"
	HandlerFault         Category = "handler_fault"
	Configuration        Category = "configuration"
	Transport            Category = "transport"
	Timeout              Category = "timeout"
	Unknown              Category = "unknown"
)

// Error is a categorized failure. Status is only set for transport failures
// where the remote answered with a non-success HTTP status.
type Error struct {
	Category Category
	Detail   string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	detail := e.Detail
	if e.Err != nil {
		if detail == "" {
			detail = e.Err.Error()
		} else {
			detail += ": " + e.Err.Error()
		}
	}

	switch {
	case e.Status != 0 && detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Category, e.Status, detail)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Category, e.Status)
	case detail == "":
		return string(e.Category)
	default:
		return fmt.Sprintf("%s: %s", e.Category, detail)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a categorized failure without an underlying cause.
func New(category Category, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap attaches a category to err. A nil err yields nil.
func Wrap(category Category, detail string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

// Status creates a transport failure for a non-success remote response.
func Status(code int, body string) error {
	return &Error{Category: Transport, Status: code, Detail: body}
}

// CategoryOf returns the category for err, inferring timeouts from context
// deadline errors. A nil err yields the empty category.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	return Unknown
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}

// StatusOf returns the remote HTTP status attached to a transport failure.
func StatusOf(err error) int {
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Status
	}
	return 0
}
