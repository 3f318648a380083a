package pinnit

import "context"

// RemoteStore is a network-backed pin table partitioned by identity.
// It is only reachable with an authenticated identity and connectivity.
type RemoteStore interface {
	// FetchAll returns every pin owned by identity, newest first.
	FetchAll(ctx context.Context, identity Identity) ([]Pin, error)

	// ReplaceAll deletes every pin owned by identity and then inserts pins.
	// The two phases are not atomic for every backend: a failure during the
	// insert can leave the partition empty.
	ReplaceAll(ctx context.Context, identity Identity, pins []Pin) error
}
