package storage

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotConnected is returned when an operation runs before the collection handle is bound.
	ErrNotConnected = errors.New("store is not connected")
	// ErrUnavailable indicates the server could not be reached or did not answer in time.
	ErrUnavailable = errors.New("database unavailable")
	// ErrInvalidID is returned when a user id is not a valid ObjectID hex string.
	ErrInvalidID = errors.New("invalid user id")
	// ErrUserNotFound is returned when an id matches no document.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when an insert violates the unique email index.
	ErrDuplicateEmail = errors.New("email already exists")
)

// classify wraps driver errors with the matching sentinel value.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicateEmail, err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
