// Package validation collects per-field input errors behind a package's
// own sentinel, so callers can match with errors.Is and still report every
// offending field.
package validation

import "strings"

type Field struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	base   error
	Fields []Field
}

func New(base error) *Error { return &Error{base: base} }

func (e *Error) Add(field, msg string) {
	e.Fields = append(e.Fields, Field{Field: field, Message: msg})
}

// Require adds "is required" for a blank value.
func (e *Error) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.Add(field, "is required")
	}
}

// Err returns nil when no field was added.
func (e *Error) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.base.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return e.base }
