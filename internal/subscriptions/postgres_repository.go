package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/akkaui/payments/internal/config"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db        *sql.DB
	tableName string
	ownsDB    bool
}

var validTableName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewPostgresRepository opens a dedicated connection.
func NewPostgresRepository(connStr string, pool config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)

	return &PostgresRepository{db: db, tableName: "user_entitlements", ownsDB: true}, nil
}

// NewPostgresRepositoryWithDB creates a repository using a shared database connection.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, tableName: "user_entitlements"}
}

// WithTableName sets a custom table name and creates the table if missing.
func (r *PostgresRepository) WithTableName(name string) (*PostgresRepository, error) {
	if name != "" {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name: %s", name)
		}
		r.tableName = name
	}
	if err := r.createTable(); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return r, nil
}

func (r *PostgresRepository) createTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id    TEXT PRIMARY KEY,
			active     BOOLEAN NOT NULL DEFAULT FALSE,
			expires_on DATE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, pq.QuoteIdentifier(r.tableName))

	_, err := r.db.Exec(query)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (Entitlement, error) {
	query := fmt.Sprintf(`SELECT active, expires_on, updated_at FROM %s WHERE user_id = $1`, pq.QuoteIdentifier(r.tableName))

	e, err := scanEntitlement(r.db.QueryRowContext(ctx, query, userID), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entitlement{UserID: userID}, nil
	}
	if err != nil {
		return Entitlement{}, fmt.Errorf("query entitlement: %w", err)
	}
	return e, nil
}

// Extend locks the user's row for the read-modify-write so concurrent
// extensions serialize instead of overwriting each other.
func (r *PostgresRepository) Extend(ctx context.Context, userID string, months int, today time.Time) (Entitlement, error) {
	if err := validateExtension(userID, months); err != nil {
		return Entitlement{}, err
	}
	table := pq.QuoteIdentifier(r.tableName)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Entitlement{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ensure := fmt.Sprintf(`INSERT INTO %s (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, table)
	if _, err := tx.ExecContext(ctx, ensure, userID); err != nil {
		return Entitlement{}, fmt.Errorf("ensure entitlement row: %w", err)
	}

	lock := fmt.Sprintf(`SELECT active, expires_on, updated_at FROM %s WHERE user_id = $1 FOR UPDATE`, table)
	current, err := scanEntitlement(tx.QueryRowContext(ctx, lock, userID), userID)
	if err != nil {
		return Entitlement{}, fmt.Errorf("lock entitlement: %w", err)
	}

	next := ExtendFrom(current.ExpiresOn, today, months)
	now := time.Now().UTC()
	update := fmt.Sprintf(`UPDATE %s SET active = TRUE, expires_on = $2, updated_at = $3 WHERE user_id = $1`, table)
	if _, err := tx.ExecContext(ctx, update, userID, next, now); err != nil {
		return Entitlement{}, fmt.Errorf("update entitlement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entitlement{}, fmt.Errorf("commit entitlement: %w", err)
	}
	return Entitlement{UserID: userID, Active: true, ExpiresOn: &next, UpdatedAt: now}, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, userID string) error {
	query := fmt.Sprintf(`UPDATE %s SET active = FALSE, expires_on = NULL, updated_at = NOW() WHERE user_id = $1`, pq.QuoteIdentifier(r.tableName))
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("deactivate entitlement: %w", err)
	}
	return nil
}

// Close closes the database connection if owned by this repository.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func scanEntitlement(row *sql.Row, userID string) (Entitlement, error) {
	var (
		e         Entitlement
		expiresOn sql.NullTime
	)
	if err := row.Scan(&e.Active, &expiresOn, &e.UpdatedAt); err != nil {
		return Entitlement{}, err
	}
	e.UserID = userID
	if expiresOn.Valid {
		d := DateOf(expiresOn.Time)
		e.ExpiresOn = &d
	}
	return e, nil
}
