package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	ErrExtraction       = errors.New("extraction failed")
	ErrTagSuggestion    = errors.New("tag suggestion failed")
	ErrIndexConsistency = errors.New("index consistency violated")
	ErrConflict         = errors.New("conflicting operation in flight")
	ErrRetrieval        = errors.New("retrieval failed")
	ErrAnswering        = errors.New("answering failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
