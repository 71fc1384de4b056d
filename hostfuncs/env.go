package hostfuncs

import (
	"context"
	"sync"

	"github.com/gantry-dev/gantry/domain/entities"
)

// EnvStore is the per-extension environment overlay behind get_env_var and
// set_env_var. Reads and writes never touch the host process environment:
// each extension sees only the variables seeded from its configuration plus
// its own writes.
type EnvStore struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewEnvStore creates an EnvStore seeded with the given variables. The seed
// map is copied; later mutations of the argument are not visible.
func NewEnvStore(seed map[string]string) *EnvStore {
	vars := make(map[string]string, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &EnvStore{vars: vars}
}

// Get returns the value for name and whether it is present.
func (s *EnvStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Set writes a variable into the overlay.
func (s *EnvStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Snapshot returns a copy of the current overlay.
func (s *EnvStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// PerformEnvGet looks a variable up in the extension's overlay.
func PerformEnvGet(ctx context.Context, store *EnvStore, req entities.EnvGetRequest) entities.EnvGetResponse {
	if req.Name == "" {
		return entities.EnvGetResponse{
			Error: &entities.ErrorDetail{
				Type:    "validation",
				Code:    "EMPTY_NAME",
				Message: "variable name is required",
			},
		}
	}

	value, found := store.Get(req.Name)
	return entities.EnvGetResponse{Value: value, Found: found}
}

// PerformEnvSet writes a variable into the extension's overlay.
func PerformEnvSet(ctx context.Context, store *EnvStore, req entities.EnvSetRequest) entities.EnvSetResponse {
	if req.Name == "" {
		return entities.EnvSetResponse{
			Error: &entities.ErrorDetail{
				Type:    "validation",
				Code:    "EMPTY_NAME",
				Message: "variable name is required",
			},
		}
	}

	store.Set(req.Name, req.Value)
	return entities.EnvSetResponse{}
}
