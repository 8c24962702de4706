package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/money"
	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db             *sql.DB
	ownsDB         bool
	metrics        *metrics.Metrics
	intentsTable   string
	lineItemsTable string
	grantsTable    string
}

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

const uniqueViolation = "23505"

// NewPostgresStore opens a dedicated connection pool.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := NewPostgresStoreWithDB(db)
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB creates a store on an existing connection pool.
// Call WithTableNames to create the schema before use.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:             db,
		intentsTable:   "payment_intents",
		lineItemsTable: "payment_line_items",
		grantsTable:    "purchase_grants",
	}
}

// WithTableNames applies schema_mapping overrides and creates missing tables.
func (s *PostgresStore) WithTableNames(intents, lineItems, grants string) (*PostgresStore, error) {
	for _, pair := range []struct {
		name string
		dst  *string
	}{{intents, &s.intentsTable}, {lineItems, &s.lineItemsTable}, {grants, &s.grantsTable}} {
		if pair.name == "" {
			continue
		}
		if !validTableNameRegex.MatchString(pair.name) {
			return nil, fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores only)", pair.name)
		}
		*pair.dst = pair.name
	}
	if err := s.createTables(); err != nil {
		if s.ownsDB {
			_ = s.db.Close()
		}
		return nil, err
	}
	return s, nil
}

// WithMetrics adds database query metrics.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

func (s *PostgresStore) createTables() error {
	intents := pq.QuoteIdentifier(s.intentsTable)
	items := pq.QuoteIdentifier(s.lineItemsTable)
	grants := pq.QuoteIdentifier(s.grantsTable)

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			currency TEXT NOT NULL,
			amount_atomic BIGINT NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT,
			gateway_response JSONB,
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id BIGSERIAL PRIMARY KEY,
			intent_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			item_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			unit_price_atomic BIGINT NOT NULL,
			total_atomic BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			price_atomic BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			intent_id TEXT NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, asset_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS %[4]s ON %[1]s(provider, external_id) WHERE external_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS %[5]s ON %[1]s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS %[6]s ON %[2]s(intent_id);
	`,
		intents, items, grants,
		pq.QuoteIdentifier("idx_"+s.intentsTable+"_provider_external"),
		pq.QuoteIdentifier("idx_"+s.intentsTable+"_user_created"),
		pq.QuoteIdentifier("idx_"+s.lineItemsTable+"_intent"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*DefaultQueryTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CreateIntent inserts the intent and its line items in one transaction.
func (s *PostgresStore) CreateIntent(ctx context.Context, intent PaymentIntent) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_intent", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertIntent := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, provider, currency, amount_atomic, status, external_id,
		                gateway_response, error_detail, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, pq.QuoteIdentifier(s.intentsTable))

	var completedAt any
	if intent.CompletedAt != nil {
		completedAt = intent.CompletedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx, insertIntent,
		intent.ID,
		intent.UserID,
		intent.Provider,
		intent.Currency(),
		intent.Amount.Atomic,
		string(intent.Status),
		nullString(intent.ExternalID),
		nullJSON(intent.GatewayResponse),
		intent.ErrorDetail,
		intent.CreatedAt.UTC(),
		intent.UpdatedAt.UTC(),
		completedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert intent: %w", err)
	}

	insertItem := fmt.Sprintf(`
		INSERT INTO %s (intent_id, kind, item_id, name, quantity, unit_price_atomic, total_atomic)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pq.QuoteIdentifier(s.lineItemsTable))

	for _, item := range intent.Items {
		if _, err := tx.ExecContext(ctx, insertItem,
			intent.ID,
			string(item.Kind),
			item.ItemID,
			item.Name,
			item.Quantity,
			item.UnitPrice.Atomic,
			item.Total.Atomic,
		); err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit intent: %w", err)
	}
	return nil
}

const intentColumns = `id, user_id, provider, currency, amount_atomic, status, external_id,
	gateway_response, error_detail, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (PaymentIntent, error) {
	var (
		p           PaymentIntent
		currency    string
		atomic      int64
		status      string
		externalID  sql.NullString
		raw         []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &currency, &atomic, &status, &externalID,
		&raw, &p.ErrorDetail, &p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
		return PaymentIntent{}, err
	}
	asset, err := money.GetAsset(currency)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("intent %s: %w", p.ID, err)
	}
	p.Amount = money.New(asset, atomic)
	p.Status = Status(status)
	p.ExternalID = externalID.String
	if len(raw) > 0 {
		p.GatewayResponse = raw
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}

func (s *PostgresStore) loadItems(ctx context.Context, intent *PaymentIntent) error {
	query := fmt.Sprintf(`
		SELECT kind, item_id, name, quantity, unit_price_atomic, total_atomic
		FROM %s
		WHERE intent_id = $1
		ORDER BY id
	`, pq.QuoteIdentifier(s.lineItemsTable))

	rows, err := s.db.QueryContext(ctx, query, intent.ID)
	if err != nil {
		return fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item        LineItem
			kind        string
			unit, total int64
		)
		if err := rows.Scan(&kind, &item.ItemID, &item.Name, &item.Quantity, &unit, &total); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}
		item.IntentID = intent.ID
		item.Kind = catalog.ItemKind(kind)
		item.UnitPrice = money.New(intent.Amount.Asset, unit)
		item.Total = money.New(intent.Amount.Asset, total)
		intent.Items = append(intent.Items, item)
	}
	return rows.Err()
}

func (s *PostgresStore) getBy(ctx context.Context, where string, args ...any) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, intentColumns, pq.QuoteIdentifier(s.intentsTable), where)
	intent, err := scanIntent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("query intent: %w", err)
	}
	if err := s.loadItems(ctx, &intent); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

func (s *PostgresStore) GetIntent(ctx context.Context, id string) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_intent", "postgres")()
	return s.getBy(ctx, "id = $1", id)
}

func (s *PostgresStore) FindIntentByExternalID(ctx context.Context, provider, externalID string) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "find_intent_by_external_id", "postgres")()
	return s.getBy(ctx, "provider = $1 AND external_id = $2", provider, externalID)
}

func (s *PostgresStore) ListUserIntents(ctx context.Context, userID string, limit int) ([]PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_user_intents", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		intentColumns, pq.QuoteIdentifier(s.intentsTable))

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	var intents []PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range intents {
		if err := s.loadItems(ctx, &intents[i]); err != nil {
			return nil, err
		}
	}
	return intents, nil
}

func (s *PostgresStore) AttachGatewayResult(ctx context.Context, id string, update GatewayUpdate) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "attach_gateway_result", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET external_id = COALESCE($2, external_id),
		    gateway_response = COALESCE($3, gateway_response),
		    status = COALESCE(NULLIF($4, ''), status),
		    error_detail = $5,
		    updated_at = $6
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, pq.QuoteIdentifier(s.intentsTable))

	result, err := s.db.ExecContext(ctx, query,
		id,
		nullString(update.ExternalID),
		nullJSON(update.Raw),
		string(update.Status),
		update.ErrorDetail,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrAlreadyExists
		}
		return false, fmt.Errorf("attach gateway result: %w", err)
	}
	return s.appliedOrMissing(ctx, result, id)
}

// Transition runs one conditional UPDATE. The affected-row count decides
// which concurrent caller applied the change.
func (s *PostgresStore) Transition(ctx context.Context, t Transition) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "transition_intent", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
		    updated_at = $3,
		    gateway_response = COALESCE($4, gateway_response),
		    error_detail = COALESCE(NULLIF($5, ''), error_detail),
		    completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, $3) ELSE completed_at END
		WHERE id = $1 AND status = ANY($6)
	`, pq.QuoteIdentifier(s.intentsTable))

	result, err := s.db.ExecContext(ctx, query,
		t.ID,
		string(t.To),
		at.UTC(),
		nullJSON(t.Raw),
		t.ErrorDetail,
		pq.Array(statusStrings(t.From)),
	)
	if err != nil {
		return false, fmt.Errorf("transition intent: %w", err)
	}
	return s.appliedOrMissing(ctx, result, t.ID)
}

func (s *PostgresStore) appliedOrMissing(ctx context.Context, result sql.Result, id string) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, pq.QuoteIdentifier(s.intentsTable))
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check intent exists: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) InsertGrantIfAbsent(ctx context.Context, grant PurchaseGrant) (GrantResult, error) {
	defer metrics.MeasureDBQuery(s.metrics, "insert_grant", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, asset_id, price_atomic, currency, payment_method, intent_id, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, asset_id) DO NOTHING
	`, pq.QuoteIdentifier(s.grantsTable))

	result, err := s.db.ExecContext(ctx, query,
		grant.ID,
		grant.UserID,
		grant.AssetID,
		grant.Price.Atomic,
		grant.Price.Asset.Code,
		grant.PaymentMethod,
		grant.IntentID,
		grant.GrantedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return GrantAlreadyExisted, nil
	}
	return GrantCreated, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]PurchaseGrant, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_grants", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, asset_id, price_atomic, currency, payment_method, intent_id, granted_at
		FROM %s
		WHERE user_id = $1
		ORDER BY granted_at DESC
	`, pq.QuoteIdentifier(s.grantsTable))

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants := []PurchaseGrant{}
	for rows.Next() {
		var (
			g        PurchaseGrant
			atomic   int64
			currency string
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.AssetID, &atomic, &currency, &g.PaymentMethod, &g.IntentID, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		asset, err := money.GetAsset(strings.TrimSpace(currency))
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.ID, err)
		}
		g.Price = money.New(asset, atomic)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PostgresStore) HasGrant(ctx context.Context, userID, assetID string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_grant", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND asset_id = $2)`, pq.QuoteIdentifier(s.grantsTable))
	if err := s.db.QueryRowContext(ctx, query, userID, assetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

// Close closes the connection pool when this store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
