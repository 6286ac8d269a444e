package callback

import (
	"context"
	"fmt"
	"sync"

	"github.com/openaccounts/oidcaccount/oidc"
)

// StateReader defines an interface for finding and reading an oidc.State.
// Implementations must be concurrently safe, since the reader will likely be
// used within a concurrent http.Handler
type StateReader interface {
	// Read an existing State entry. The returned state's ID() must match the
	// stateID used to look it up.
	Read(ctx context.Context, stateID string) (oidc.State, error)
}

// SingleStateReader implements the StateReader interface for a single state.
// It is concurrently safe.
type SingleStateReader struct {
	State oidc.State
}

// Read will return its single state if the stateID matches its ID(),
// otherwise it returns ErrStateNotFound.
func (s *SingleStateReader) Read(_ context.Context, stateID string) (oidc.State, error) {
	const op = "SingleStateReader.Read"
	if s.State == nil || s.State.ID() != stateID {
		return nil, fmt.Errorf("%s: %w", op, ErrStateNotFound)
	}
	return s.State, nil
}

// StateCache is a StateReader that remembers issued states until they are
// taken. Each state can be read only once.
type StateCache struct {
	mu     sync.Mutex
	states map[string]oidc.State
}

// NewStateCache creates an empty StateCache.
func NewStateCache() *StateCache {
	return &StateCache{states: map[string]oidc.State{}}
}

// Add remembers s until it is read.
func (c *StateCache) Add(s oidc.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[s.ID()] = s
}

// Read returns and forgets the state with stateID. Expired states are
// returned as well; the finish step rejects them.
func (c *StateCache) Read(_ context.Context, stateID string) (oidc.State, error) {
	const op = "StateCache.Read"
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[stateID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrStateNotFound)
	}
	delete(c.states, stateID)
	return s, nil
}
