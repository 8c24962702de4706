package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	intents    map[string]PaymentIntent
	byExternal map[string]string                   // provider\x00externalID -> intent id
	grants     map[string]map[string]PurchaseGrant // userID -> assetID -> grant
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:    make(map[string]PaymentIntent),
		byExternal: make(map[string]string),
		grants:     make(map[string]map[string]PurchaseGrant),
	}
}

func externalKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

func cloneIntent(p PaymentIntent) PaymentIntent {
	if p.Items != nil {
		p.Items = append([]LineItem(nil), p.Items...)
	}
	if p.GatewayResponse != nil {
		p.GatewayResponse = append([]byte(nil), p.GatewayResponse...)
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

func (m *MemoryStore) CreateIntent(_ context.Context, intent PaymentIntent) error {
	if intent.ID == "" {
		return fmt.Errorf("payment intent requires id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return ErrAlreadyExists
	}
	if intent.ExternalID != "" {
		key := externalKey(intent.Provider, intent.ExternalID)
		if _, taken := m.byExternal[key]; taken {
			return ErrAlreadyExists
		}
		m.byExternal[key] = intent.ID
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}
	for i := range intent.Items {
		intent.Items[i].IntentID = intent.ID
	}
	m.intents[intent.ID] = cloneIntent(intent)
	return nil
}

func (m *MemoryStore) GetIntent(_ context.Context, id string) (PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[id]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return cloneIntent(intent), nil
}

func (m *MemoryStore) FindIntentByExternalID(_ context.Context, provider, externalID string) (PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalKey(provider, externalID)]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return cloneIntent(m.intents[id]), nil
}

func (m *MemoryStore) ListUserIntents(_ context.Context, userID string, limit int) ([]PaymentIntent, error) {
	m.mu.RLock()
	var out []PaymentIntent
	for _, intent := range m.intents {
		if intent.UserID == userID {
			out = append(out, cloneIntent(intent))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AttachGatewayResult(_ context.Context, id string, update GatewayUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return false, ErrNotFound
	}
	if intent.Status.IsTerminal() {
		return false, nil
	}
	if update.ExternalID != "" && update.ExternalID != intent.ExternalID {
		key := externalKey(intent.Provider, update.ExternalID)
		if owner, taken := m.byExternal[key]; taken && owner != id {
			return false, ErrAlreadyExists
		}
		m.byExternal[key] = id
		intent.ExternalID = update.ExternalID
	}
	if update.Raw != nil {
		intent.GatewayResponse = append([]byte(nil), update.Raw...)
	}
	if update.Status != "" {
		intent.Status = update.Status
	}
	intent.ErrorDetail = update.ErrorDetail
	intent.UpdatedAt = time.Now()
	m.intents[id] = intent
	return true, nil
}

func (m *MemoryStore) Transition(_ context.Context, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[t.ID]
	if !ok {
		return false, ErrNotFound
	}
	if !t.allows(intent.Status) {
		return false, nil
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	intent.Status = t.To
	intent.UpdatedAt = at
	if t.Raw != nil {
		intent.GatewayResponse = append([]byte(nil), t.Raw...)
	}
	if t.ErrorDetail != "" {
		intent.ErrorDetail = t.ErrorDetail
	}
	if t.To == StatusCompleted && intent.CompletedAt == nil {
		intent.CompletedAt = &at
	}
	m.intents[t.ID] = intent
	return true, nil
}

func (m *MemoryStore) InsertGrantIfAbsent(_ context.Context, grant PurchaseGrant) (GrantResult, error) {
	if grant.UserID == "" || grant.AssetID == "" {
		return 0, fmt.Errorf("purchase grant requires user and asset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	owned, ok := m.grants[grant.UserID]
	if !ok {
		owned = make(map[string]PurchaseGrant)
		m.grants[grant.UserID] = owned
	}
	if _, exists := owned[grant.AssetID]; exists {
		return GrantAlreadyExisted, nil
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}
	owned[grant.AssetID] = grant
	return GrantCreated, nil
}

func (m *MemoryStore) ListGrants(_ context.Context, userID string) ([]PurchaseGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PurchaseGrant, 0, len(m.grants[userID]))
	for _, g := range m.grants[userID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (m *MemoryStore) HasGrant(_ context.Context, userID, assetID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[userID][assetID]
	return ok, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
