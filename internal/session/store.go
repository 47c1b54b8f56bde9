package session

import "context"

// Store persists session state keyed by session id. TTL and expiry policy
// belong to the store, not to callers.
type Store interface {
	// Find returns the state for id, or sentinel.ErrNotFound.
	Find(ctx context.Context, id string) (*State, error)
	// Save writes the whole state for id.
	Save(ctx context.Context, id string, state *State) error
	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
}
