package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/money"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db          *sql.DB
	ownsDB      bool
	metrics     *metrics.Metrics
	plansTable  string
	assetsTable string
}

const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

const maxIDLength = 255

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateID(id string) error {
	if len(id) == 0 || len(id) > maxIDLength {
		return fmt.Errorf("invalid catalog id length: must be between 1 and %d characters", maxIDLength)
	}
	return nil
}

func validateTableName(name string) error {
	if !validTableNameRegex.MatchString(name) {
		return fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores only)", name)
	}
	return nil
}

func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// NewPostgresRepository opens a dedicated connection and creates the catalog tables.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &PostgresRepository{db: db, ownsDB: true, plansTable: "catalog_plans", assetsTable: "catalog_assets"}, nil
}

// NewPostgresRepositoryWithDB uses a shared connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, plansTable: "catalog_plans", assetsTable: "catalog_assets"}
}

// WithTableNames overrides the table names (schema_mapping) and ensures the tables exist.
func (r *PostgresRepository) WithTableNames(plans, assets string) (*PostgresRepository, error) {
	if plans != "" {
		if err := validateTableName(plans); err != nil {
			return nil, err
		}
		r.plansTable = plans
	}
	if assets != "" {
		if err := validateTableName(assets); err != nil {
			return nil, err
		}
		r.assetsTable = assets
	}
	if err := r.createTables(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// WithMetrics adds metrics collection to the repository.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

func (r *PostgresRepository) createTables(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			price_atomic BIGINT NOT NULL,
			currency TEXT NOT NULL,
			months INTEGER NOT NULL DEFAULT 1,
			stripe_price_id TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`, pq.QuoteIdentifier(r.plansTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			price_atomic BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`, pq.QuoteIdentifier(r.assetsTable)),
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create catalog tables: %w", err)
		}
	}
	return nil
}

// GetPlan retrieves an active plan by code.
func (r *PostgresRepository) GetPlan(ctx context.Context, code string) (Plan, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_plan", "postgres")()

	if err := validateID(code); err != nil {
		return Plan{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT code, name, price_atomic, currency, months, stripe_price_id, active
		FROM %s
		WHERE code = $1 AND active = TRUE
	`, pq.QuoteIdentifier(r.plansTable))

	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("query plan: %w", err)
	}
	return plan, nil
}

// GetAsset retrieves an active asset by id.
func (r *PostgresRepository) GetAsset(ctx context.Context, id string) (Asset, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_asset", "postgres")()

	if err := validateID(id); err != nil {
		return Asset{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, title, price_atomic, currency, active
		FROM %s
		WHERE id = $1 AND active = TRUE
	`, pq.QuoteIdentifier(r.assetsTable))

	var (
		a        Asset
		atomic   int64
		currency string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Title, &atomic, &currency, &a.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("query asset: %w", err)
	}
	asset, err := money.GetAsset(strings.TrimSpace(currency))
	if err != nil {
		return Asset{}, fmt.Errorf("asset %s: %w", id, err)
	}
	a.Price = money.New(asset, atomic)
	return a, nil
}

// ListPlans returns all active plans.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_plans", "postgres")()

	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT code, name, price_atomic, currency, months, stripe_price_id, active
		FROM %s
		WHERE active = TRUE
		ORDER BY code
	`, pq.QuoteIdentifier(r.plansTable))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// Close closes the connection when this repository opened it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (Plan, error) {
	var (
		p        Plan
		atomic   int64
		currency string
	)
	if err := row.Scan(&p.Code, &p.Name, &atomic, &currency, &p.Months, &p.StripePriceID, &p.Active); err != nil {
		return Plan{}, err
	}
	asset, err := money.GetAsset(strings.TrimSpace(currency))
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", p.Code, err)
	}
	p.Price = money.New(asset, atomic)
	if p.Months <= 0 {
		p.Months = config.DefaultPlanMonths(p.Code)
	}
	return p, nil
}
