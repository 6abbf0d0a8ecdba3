package feed

import (
	"errors"
	"fmt"
)

// ErrMalformedFeed matches every *MalformedError via errors.Is.
var ErrMalformedFeed = errors.New("malformed feed")

// Kind classifies why a feed was rejected.
type Kind string

const (
	KindContainer      Kind = "container"
	KindPayloadMissing Kind = "payload_missing"
	KindMissingColumns Kind = "missing_columns"
	KindInvalidRow     Kind = "invalid_row"
	KindDuplicateKey   Kind = "duplicate_key"
	KindEmpty          Kind = "empty"
)

// MalformedError rejects a whole feed. Line is the 1-based CSV line
// (header is line 1) when the problem is tied to a row, otherwise 0.
type MalformedError struct {
	Kind   Kind
	Line   int
	Column string
	Detail string
	Err    error
}

func (e *MalformedError) Error() string {
	msg := "malformed feed (" + string(e.Kind) + ")"
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedFeed }
