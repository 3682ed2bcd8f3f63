package lockout

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process [Repository]. One mutex serializes all
// mutations, which satisfies the per-credential serialization contract.
// Intended for tests and single-process deployments.
type MemoryRepository struct {
	mu           sync.RWMutex
	byID         map[string]Credential
	byIdentifier map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:         make(map[string]Credential),
		byIdentifier: make(map[string]string),
	}
}

func (r *MemoryRepository) FindByIdentifier(_ context.Context, identifier string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentifier[identifier]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (r *MemoryRepository) Create(_ context.Context, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[cred.ID]; exists {
		return ErrConflict
	}
	if _, exists := r.byIdentifier[cred.Identifier]; exists {
		return ErrConflict
	}
	r.byID[cred.ID] = cred
	r.byIdentifier[cred.Identifier] = cred.ID
	return nil
}

func (r *MemoryRepository) Mutate(_ context.Context, id string, fn func(Credential) (Credential, error)) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}

	next, err := fn(current)
	if err != nil {
		return Credential{}, err
	}
	next.ID = id

	r.byID[id] = next
	if next.Identifier != current.Identifier {
		delete(r.byIdentifier, current.Identifier)
		r.byIdentifier[next.Identifier] = id
	}
	return next, nil
}
