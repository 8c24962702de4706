package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akkaui/payments/internal/config"
)

// ErrInvalidExtension is returned for empty user ids or non-positive month counts.
var ErrInvalidExtension = errors.New("subscriptions: invalid extension")

// Repository stores subscription entitlements.
type Repository interface {
	// Get returns the user's entitlement. Users without a record get an inactive zero value.
	Get(ctx context.Context, userID string) (Entitlement, error)

	// Extend atomically adds months to the expiration and marks the entitlement active.
	Extend(ctx context.Context, userID string, months int, today time.Time) (Entitlement, error)

	// Deactivate clears the active flag and keeps the expiration date for audit.
	Deactivate(ctx context.Context, userID string) error

	Close() error
}

// NewRepository creates a repository from the storage section.
func NewRepository(cfg config.StorageConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil)
}

// NewRepositoryWithDB creates a repository with an optional shared database connection.
func NewRepositoryWithDB(cfg config.StorageConfig, sharedDB *sql.DB) (Repository, error) {
	table := cfg.SchemaMapping.Entitlements.TableName
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryRepository(), nil
	case "postgres":
		var (
			repo *PostgresRepository
			err  error
		)
		if sharedDB != nil {
			repo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			if cfg.PostgresURL == "" {
				return nil, fmt.Errorf("postgres backend requires postgres_url")
			}
			repo, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool)
			if err != nil {
				return nil, err
			}
		}
		repo, err = repo.WithTableName(table)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mongodb":
		repo, err := NewMongoDBRepository(cfg.MongoDBURL, cfg.MongoDBDatabase, table)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown subscriptions backend: %s", cfg.Backend)
	}
}

func validateExtension(userID string, months int) error {
	if userID == "" || months <= 0 {
		return fmt.Errorf("%w: user %q months %d", ErrInvalidExtension, userID, months)
	}
	return nil
}
