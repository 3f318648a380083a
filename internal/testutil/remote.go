package testutil

import (
	"pinnit-go/internal/pinnit"
	"pinnit-go/internal/remote"
)

// NewTestRemote returns an empty in-memory remote store.
func NewTestRemote() *remote.MemoryRemote {
	return remote.NewMemoryRemote()
}

// Alice returns a signed-in identity with a display name.
func Alice() *pinnit.Identity {
	return &pinnit.Identity{ID: "user-alice", Username: "alice", DisplayName: "Alice", Token: "token-alice"}
}

// Bob returns a signed-in identity without a display name.
func Bob() *pinnit.Identity {
	return &pinnit.Identity{ID: "user-bob", Username: "bob", Token: "token-bob"}
}
