package purge

import (
	"context"
	"sync"
)

// Repository is the domain-storage collaborator the purge worker deletes
// through. Cascade semantics live here as explicit steps (children first,
// then the owner) so the job can report per-step progress.
type Repository interface {
	// ListResourceIDs returns the ids of all resources owned by ownerRef.
	ListResourceIDs(ctx context.Context, ownerRef string) ([]string, error)

	// DeleteResource removes one owned resource. Deleting a resource that is
	// already gone is not an error.
	DeleteResource(ctx context.Context, ownerRef, resourceID string) error

	// DeleteOwner removes the owner record itself, after all resources.
	DeleteOwner(ctx context.Context, ownerRef string) error
}

// MemoryRepository is an in-process Repository for local runs and tests.
type MemoryRepository struct {
	mu        sync.Mutex
	resources map[string][]string // ownerRef -> resource ids
	owners    map[string]bool
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		resources: map[string][]string{},
		owners:    map[string]bool{},
	}
}

// Seed registers an owner with the given resource ids.
func (r *MemoryRepository) Seed(ownerRef string, resourceIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[ownerRef] = true
	r.resources[ownerRef] = append(r.resources[ownerRef], resourceIDs...)
}

func (r *MemoryRepository) ListResourceIDs(_ context.Context, ownerRef string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.resources[ownerRef]))
	copy(ids, r.resources[ownerRef])
	return ids, nil
}

func (r *MemoryRepository) DeleteResource(_ context.Context, ownerRef, resourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.resources[ownerRef]
	for i, id := range ids {
		if id == resourceID {
			r.resources[ownerRef] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteOwner(_ context.Context, ownerRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resources, ownerRef)
	delete(r.owners, ownerRef)
	return nil
}

// HasOwner reports whether the owner still exists. Test helper.
func (r *MemoryRepository) HasOwner(ownerRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[ownerRef]
}
