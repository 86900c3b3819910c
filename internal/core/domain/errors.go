package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	ErrTenantNotFound     = errors.New("tenant not found")
	ErrBackendUnavailable = errors.New("generation backend unavailable")
	ErrGenerationTimeout  = errors.New("generation timeout")
	ErrNoModelAvailable   = errors.New("no model available")
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
