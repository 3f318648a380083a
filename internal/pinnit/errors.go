package pinnit

import "errors"

var (
	// ErrValidation is returned for an empty or otherwise invalid pin name.
	// It is never persisted.
	ErrValidation = errors.New("invalid pin")

	// ErrRemoteUnavailable wraps any network or auth failure talking to the
	// remote store. Reads fall back to the cache and writes are deferred.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrStorage wraps failures of the on-device store. There is nothing
	// beneath local storage to fall back to, so these are always returned.
	ErrStorage = errors.New("local storage failure")

	// ErrNotSignedIn is returned by operations that need an identity.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrPinNotFound is returned when a rename or delete names an unknown pin.
	ErrPinNotFound = errors.New("pin not found")

	// ErrCacheOwned is returned when the signed-in cache holds unsynced
	// changes made by a different identity.
	ErrCacheOwned = errors.New("signed-in cache has unsynced changes from another account")
)
