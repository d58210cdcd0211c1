package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrIncompleteAnswers   = errors.New("incomplete answers")
	ErrSchemaConfiguration = errors.New("schema configuration")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrRateLimited         = errors.New("rate limited")
	ErrInternal            = errors.New("internal error")
)

// ConflictError reports a uniqueness violation and carries the id of the row
// that already holds the slot (active session, result of a session).
type ConflictError struct {
	Resource   string
	ExistingID string
	Reason     string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrConflict, e.Resource)
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.ExistingID != "" {
		msg += " (existing id " + e.ExistingID + ")"
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// IncompleteAnswersError lists the items that still have no recorded answer.
type IncompleteAnswersError struct {
	Missing []string
}

func (e *IncompleteAnswersError) Error() string {
	return fmt.Sprintf("%s: %d item(s) unanswered: %s", ErrIncompleteAnswers, len(e.Missing), strings.Join(e.Missing, ","))
}

func (e *IncompleteAnswersError) Unwrap() error { return ErrIncompleteAnswers }

// UnknownItemError is returned when an answer references an item outside the schema.
type UnknownItemError struct {
	InstrumentID string
	ItemID       string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("%s: item %q is not part of instrument %q", ErrInvalidArgument, e.ItemID, e.InstrumentID)
}

func (e *UnknownItemError) Unwrap() error { return ErrInvalidArgument }

// SideEffectWarning wraps a failure of a post-commit effect. It is logged and
// counted, never returned to the caller of the primary operation.
type SideEffectWarning struct {
	Effect   string
	ResultID string
	Err      error
}

func (w *SideEffectWarning) Error() string {
	return fmt.Sprintf("side effect %s failed for result %s: %v", w.Effect, w.ResultID, w.Err)
}

func (w *SideEffectWarning) Unwrap() error { return w.Err }
