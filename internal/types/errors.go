package types

import (
	"errors"
	"fmt"
)

// ErrKind partitions operation failures for RPC replies and CLI exit codes
type ErrKind string

const (
	KindTransient    ErrKind = "transient_external"
	KindNotFound     ErrKind = "not_found"
	KindInvalidState ErrKind = "invalid_state"
	KindConflict     ErrKind = "conflict"
	KindBudget       ErrKind = "budget_exceeded"
	KindCorruption   ErrKind = "corruption"
)

// OpError is a classified operation failure carried across the RPC boundary
type OpError struct {
	Kind    ErrKind `json:"kind"`
	Message string  `json:"message"`
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds a classified error
func E(kind ErrKind, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies an arbitrary error. Unclassified errors count as
// transient so callers fall back rather than hard-fail.
func KindOf(err error) ErrKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindTransient
}
