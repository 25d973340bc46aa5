package domain

import (
	"errors"
	"fmt"
)

var (
	ErrQueryNotFound = errors.New("query not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("operation not allowed in current query phase")
	ErrTemporary     = errors.New("temporary failure")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrNoConsent     = errors.New("consent not recorded")
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
