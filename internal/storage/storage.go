package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/metrics"
)

var (
	// ErrNotFound is returned when a requested entity is missing from the store.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists is returned when an intent id or (provider, external id) pair is taken.
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Store captures the persistence requirements of the payment ledger.
//
// Status changes go through AttachGatewayResult and Transition only. Both are
// single conditional updates, so concurrent finalizers race on the database
// rather than on a read-then-write in application code.
type Store interface {
	// CreateIntent persists an intent and its line items atomically.
	CreateIntent(ctx context.Context, intent PaymentIntent) error
	GetIntent(ctx context.Context, id string) (PaymentIntent, error)
	FindIntentByExternalID(ctx context.Context, provider, externalID string) (PaymentIntent, error)
	// ListUserIntents returns the newest intents first.
	ListUserIntents(ctx context.Context, userID string, limit int) ([]PaymentIntent, error)

	// AttachGatewayResult records the provider outcome of intent creation.
	// It reports false when the intent had already reached a terminal status.
	AttachGatewayResult(ctx context.Context, id string, update GatewayUpdate) (bool, error)
	// Transition applies a conditional status change and reports whether it applied.
	Transition(ctx context.Context, t Transition) (bool, error)

	// InsertGrantIfAbsent inserts a purchase grant unless (user, asset) already has one.
	InsertGrantIfAbsent(ctx context.Context, grant PurchaseGrant) (GrantResult, error)
	ListGrants(ctx context.Context, userID string) ([]PurchaseGrant, error)
	HasGrant(ctx context.Context, userID, assetID string) (bool, error)

	Close() error
}

// Instrument attaches query-duration metrics to the database backends. The
// memory store records nothing.
func Instrument(s Store, m *metrics.Metrics) {
	switch st := s.(type) {
	case *PostgresStore:
		st.WithMetrics(m)
	case *MongoDBStore:
		st.WithMetrics(m)
	}
}

// NewStore creates a Store from configuration.
func NewStore(cfg config.StorageConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store with an optional shared database pool.
// If sharedDB is non-nil for the postgres backend it is used instead of opening a new connection.
func NewStoreWithDB(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	mapping := cfg.SchemaMapping
	switch cfg.Backend {
	case "", "memory":
		// Memory backend loses the ledger on restart; development and tests only.
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		var (
			store *PostgresStore
			err   error
		)
		if sharedDB != nil {
			store = NewPostgresStoreWithDB(sharedDB)
		} else {
			store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
			if err != nil {
				return nil, err
			}
		}
		store, err = store.WithTableNames(mapping.Intents.TableName, mapping.LineItems.TableName, mapping.Grants.TableName)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		store, err := NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, mapping.Intents.TableName, mapping.Grants.TableName)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
