package document

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is only returned by backends that reject duplicate ids.
	ErrAlreadyExists  = errors.New("document already exists")
	ErrUpdateConflict = errors.New("document update conflict")
	// ErrDeleteFailed wraps ErrUpdateConflict, errors.Is matches both.
	ErrDeleteFailed       = fmt.Errorf("document delete failed: %w", ErrUpdateConflict)
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrInvalidContent     = errors.New("invalid content")
)
