package booking

import (
	"errors"
	"fmt"

	"slotly-backend/internal/store"
)

// Error kinds returned by the Service. Returned errors wrap exactly one of
// these; use errors.Is to tell them apart.
var (
	ErrNotFound         = errors.New("not found")
	ErrNoCapacity       = errors.New("no available spot")
	ErrForbidden        = errors.New("reservation belongs to another user")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflicting concurrent update")
	ErrStoreUnavailable = errors.New("store unavailable")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// storeError classifies an error coming back from the store. Errors that
// already carry a kind pass through untouched.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isKind(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
}

func isKind(err error) bool {
	for _, k := range []error{ErrNotFound, ErrNoCapacity, ErrForbidden, ErrInvalidArgument, ErrConflict, ErrStoreUnavailable} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
