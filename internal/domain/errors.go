package domain

import "errors"

var (
	// ErrValidation marks input that cannot become a valid entity.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups whose subject does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks writes that collide with existing state.
	ErrConflict = errors.New("conflict")

	// ErrUserOptedOut is returned when creation is requested for a user with
	// an active opt-out.
	ErrUserOptedOut = errors.New("user has opted out of notifications")
	// ErrNoTargetRecords is returned when a user has no active records for
	// the requested channel.
	ErrNoTargetRecords = errors.New("user has no active target records for channel")
	// ErrNotificationsNotCreated is returned when every candidate
	// notification already existed.
	ErrNotificationsNotCreated = errors.New("no notifications were created")
	// ErrUnknownChannel marks a channel key with no registered handler.
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// IsExpectedCreateFailure reports whether a creation error is one of the
// outcomes routine enough to drop silently in bulk flows: opted-out users,
// users without target records, and duplicates of already-created rows.
func IsExpectedCreateFailure(err error) bool {
	return errors.Is(err, ErrUserOptedOut) ||
		errors.Is(err, ErrNoTargetRecords) ||
		errors.Is(err, ErrNotificationsNotCreated)
}
