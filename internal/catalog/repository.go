package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/metrics"
)

// NewRepository creates a catalog repository based on config with optional caching.
func NewRepository(cfg config.Config) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil, nil)
}

// NewRepositoryWithDB creates a catalog repository with an optional shared database pool.
// If sharedDB is non-nil for the postgres source it is used instead of opening a new connection.
func NewRepositoryWithDB(cfg config.Config, sharedDB *sql.DB, m *metrics.Metrics) (Repository, error) {
	cat := cfg.Catalog
	mapping := cfg.Storage.SchemaMapping

	var underlying Repository
	switch cat.Source {
	case "", "yaml":
		repo, err := NewYAMLRepository(cat)
		if err != nil {
			return nil, err
		}
		underlying = repo
	case "postgres":
		if cat.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("postgres_url required when catalog source is 'postgres'")
		}
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			var err error
			pgRepo, err = NewPostgresRepository(cat.PostgresURL, cfg.Storage.PostgresPool)
			if err != nil {
				return nil, err
			}
		}
		pgRepo, err := pgRepo.WithTableNames(mapping.Plans.TableName, mapping.Assets.TableName)
		if err != nil {
			return nil, err
		}
		underlying = pgRepo.WithMetrics(m)
	case "mongodb":
		if cat.MongoDBURL == "" {
			return nil, errors.New("mongodb_url required when catalog source is 'mongodb'")
		}
		if cat.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_database required when catalog source is 'mongodb'")
		}
		plans := mapping.Plans.TableName
		if plans == "" {
			plans = "plans"
		}
		assets := mapping.Assets.TableName
		if assets == "" {
			assets = "assets"
		}
		repo, err := NewMongoDBRepository(cat.MongoDBURL, cat.MongoDBDatabase, plans, assets)
		if err != nil {
			return nil, err
		}
		underlying = repo
	default:
		return nil, fmt.Errorf("invalid catalog source %q: must be 'yaml', 'postgres', or 'mongodb'", cat.Source)
	}

	if ttl := cat.CacheTTL.Duration; ttl > 0 {
		return NewCachedRepository(underlying, ttl), nil
	}
	return underlying, nil
}
