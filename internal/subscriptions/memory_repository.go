package subscriptions

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory implementation of Repository for testing.
type MemoryRepository struct {
	mu           sync.Mutex
	entitlements map[string]Entitlement
	now          func() time.Time
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entitlements: make(map[string]Entitlement),
		now:          time.Now,
	}
}

func (r *MemoryRepository) Get(_ context.Context, userID string) (Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entitlements[userID]
	if !ok {
		return Entitlement{UserID: userID}, nil
	}
	return copyEntitlement(e), nil
}

func (r *MemoryRepository) Extend(_ context.Context, userID string, months int, today time.Time) (Entitlement, error) {
	if err := validateExtension(userID, months); err != nil {
		return Entitlement{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entitlements[userID]
	next := ExtendFrom(e.ExpiresOn, today, months)
	e = Entitlement{UserID: userID, Active: true, ExpiresOn: &next, UpdatedAt: r.now()}
	r.entitlements[userID] = e
	return copyEntitlement(e), nil
}

func (r *MemoryRepository) Deactivate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entitlements[userID]
	if !ok {
		return nil
	}
	e.Active = false
	e.ExpiresOn = nil
	e.UpdatedAt = r.now()
	r.entitlements[userID] = e
	return nil
}

// Close is a no-op for the memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

func copyEntitlement(e Entitlement) Entitlement {
	if e.ExpiresOn != nil {
		t := *e.ExpiresOn
		e.ExpiresOn = &t
	}
	return e
}
