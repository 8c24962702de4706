package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/money"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB. Line items are embedded in the
// intent document so creation is a single atomic insert.
type MongoDBStore struct {
	client  *mongo.Client
	intents *mongo.Collection
	grants  *mongo.Collection
	metrics *metrics.Metrics
}

// WithMetrics adds database query metrics.
func (s *MongoDBStore) WithMetrics(m *metrics.Metrics) *MongoDBStore {
	s.metrics = m
	return s
}

func (s *MongoDBStore) measure(op string) func() {
	return metrics.MeasureDBQuery(s.metrics, op, "mongodb")
}

type mongoLineItem struct {
	Kind            string `bson:"kind"`
	ItemID          string `bson:"item_id"`
	Name            string `bson:"name"`
	Quantity        int    `bson:"quantity"`
	UnitPriceAtomic int64  `bson:"unit_price_atomic"`
	TotalAtomic     int64  `bson:"total_atomic"`
}

type mongoIntent struct {
	ID              string          `bson:"_id"`
	UserID          string          `bson:"user_id"`
	Provider        string          `bson:"provider"`
	Currency        string          `bson:"currency"`
	AmountAtomic    int64           `bson:"amount_atomic"`
	Status          string          `bson:"status"`
	ExternalID      string          `bson:"external_id,omitempty"`
	GatewayResponse string          `bson:"gateway_response,omitempty"`
	ErrorDetail     string          `bson:"error_detail"`
	Items           []mongoLineItem `bson:"items"`
	CreatedAt       time.Time       `bson:"created_at"`
	UpdatedAt       time.Time       `bson:"updated_at"`
	CompletedAt     *time.Time      `bson:"completed_at,omitempty"`
}

type mongoGrant struct {
	ID            string    `bson:"_id"`
	UserID        string    `bson:"user_id"`
	AssetID       string    `bson:"asset_id"`
	PriceAtomic   int64     `bson:"price_atomic"`
	Currency      string    `bson:"currency"`
	PaymentMethod string    `bson:"payment_method"`
	IntentID      string    `bson:"intent_id"`
	GrantedAt     time.Time `bson:"granted_at"`
}

// NewMongoDBStore connects to MongoDB and ensures indexes exist.
func NewMongoDBStore(connectionString, database, intentsCollection, grantsCollection string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if intentsCollection == "" {
		intentsCollection = "payment_intents"
	}
	if grantsCollection == "" {
		grantsCollection = "purchase_grants"
	}
	db := client.Database(database)
	store := &MongoDBStore{
		client:  client,
		intents: db.Collection(intentsCollection),
		grants:  db.Collection(grantsCollection),
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	intentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "provider", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.intents.Indexes().CreateMany(ctx, intentIndexes); err != nil {
		return fmt.Errorf("create intent indexes: %w", err)
	}

	grantIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "asset_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.grants.Indexes().CreateMany(ctx, grantIndexes); err != nil {
		return fmt.Errorf("create grant indexes: %w", err)
	}
	return nil
}

func toMongoIntent(p PaymentIntent) mongoIntent {
	doc := mongoIntent{
		ID:              p.ID,
		UserID:          p.UserID,
		Provider:        p.Provider,
		Currency:        p.Currency(),
		AmountAtomic:    p.Amount.Atomic,
		Status:          string(p.Status),
		ExternalID:      p.ExternalID,
		GatewayResponse: string(p.GatewayResponse),
		ErrorDetail:     p.ErrorDetail,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
		CompletedAt:     p.CompletedAt,
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	for _, it := range p.Items {
		doc.Items = append(doc.Items, mongoLineItem{
			Kind:            string(it.Kind),
			ItemID:          it.ItemID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			UnitPriceAtomic: it.UnitPrice.Atomic,
			TotalAtomic:     it.Total.Atomic,
		})
	}
	return doc
}

func (d mongoIntent) toIntent() (PaymentIntent, error) {
	asset, err := money.GetAsset(d.Currency)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("intent %s: %w", d.ID, err)
	}
	p := PaymentIntent{
		ID:          d.ID,
		UserID:      d.UserID,
		Provider:    d.Provider,
		Amount:      money.New(asset, d.AmountAtomic),
		Status:      Status(d.Status),
		ExternalID:  d.ExternalID,
		ErrorDetail: d.ErrorDetail,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
	}
	if d.GatewayResponse != "" {
		p.GatewayResponse = []byte(d.GatewayResponse)
	}
	for _, it := range d.Items {
		p.Items = append(p.Items, LineItem{
			IntentID:  d.ID,
			Kind:      catalog.ItemKind(it.Kind),
			ItemID:    it.ItemID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: money.New(asset, it.UnitPriceAtomic),
			Total:     money.New(asset, it.TotalAtomic),
		})
	}
	return p, nil
}

func (s *MongoDBStore) CreateIntent(ctx context.Context, intent PaymentIntent) error {
	defer s.measure("create_intent")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if _, err := s.intents.InsertOne(ctx, toMongoIntent(intent)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *MongoDBStore) findOne(ctx context.Context, op string, filter bson.M) (PaymentIntent, error) {
	defer s.measure(op)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoIntent
	err := s.intents.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("find intent: %w", err)
	}
	return doc.toIntent()
}

func (s *MongoDBStore) GetIntent(ctx context.Context, id string) (PaymentIntent, error) {
	return s.findOne(ctx, "get_intent", bson.M{"_id": id})
}

func (s *MongoDBStore) FindIntentByExternalID(ctx context.Context, provider, externalID string) (PaymentIntent, error) {
	return s.findOne(ctx, "find_intent_by_external_id", bson.M{"provider": provider, "external_id": externalID})
}

func (s *MongoDBStore) ListUserIntents(ctx context.Context, userID string, limit int) ([]PaymentIntent, error) {
	defer s.measure("list_user_intents")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.intents.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find intents: %w", err)
	}
	defer cursor.Close(ctx)

	var intents []PaymentIntent
	for cursor.Next(ctx) {
		var doc mongoIntent
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode intent: %w", err)
		}
		intent, err := doc.toIntent()
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, cursor.Err()
}

var terminalStatuses = []string{string(StatusCompleted), string(StatusFailed), string(StatusCancelled)}

func (s *MongoDBStore) AttachGatewayResult(ctx context.Context, id string, update GatewayUpdate) (bool, error) {
	defer s.measure("attach_gateway_result")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	set := bson.M{
		"error_detail": update.ErrorDetail,
		"updated_at":   time.Now().UTC(),
	}
	if update.ExternalID != "" {
		set["external_id"] = update.ExternalID
	}
	if update.Raw != nil {
		set["gateway_response"] = string(update.Raw)
	}
	if update.Status != "" {
		set["status"] = string(update.Status)
	}

	filter := bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses}}
	result, err := s.intents.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, ErrAlreadyExists
		}
		return false, fmt.Errorf("attach gateway result: %w", err)
	}
	return s.appliedOrMissing(ctx, result, id)
}

// Transition filters on the current status so only one concurrent caller matches.
func (s *MongoDBStore) Transition(ctx context.Context, t Transition) (bool, error) {
	defer s.measure("transition_intent")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	set := bson.M{"status": string(t.To), "updated_at": at}
	if t.Raw != nil {
		set["gateway_response"] = string(t.Raw)
	}
	if t.ErrorDetail != "" {
		set["error_detail"] = t.ErrorDetail
	}
	if t.To == StatusCompleted {
		set["completed_at"] = at
	}

	filter := bson.M{"_id": t.ID, "status": bson.M{"$in": statusStrings(t.From)}}
	result, err := s.intents.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("transition intent: %w", err)
	}
	return s.appliedOrMissing(ctx, result, t.ID)
}

func (s *MongoDBStore) appliedOrMissing(ctx context.Context, result *mongo.UpdateResult, id string) (bool, error) {
	if result.MatchedCount > 0 {
		return true, nil
	}
	count, err := s.intents.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("check intent exists: %w", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *MongoDBStore) InsertGrantIfAbsent(ctx context.Context, grant PurchaseGrant) (GrantResult, error) {
	defer s.measure("insert_grant")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}
	doc := mongoGrant{
		ID:            grant.ID,
		UserID:        grant.UserID,
		AssetID:       grant.AssetID,
		PriceAtomic:   grant.Price.Atomic,
		Currency:      grant.Price.Asset.Code,
		PaymentMethod: grant.PaymentMethod,
		IntentID:      grant.IntentID,
		GrantedAt:     grant.GrantedAt.UTC(),
	}
	if _, err := s.grants.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return GrantAlreadyExisted, nil
		}
		return 0, fmt.Errorf("insert grant: %w", err)
	}
	return GrantCreated, nil
}

func (s *MongoDBStore) ListGrants(ctx context.Context, userID string) ([]PurchaseGrant, error) {
	defer s.measure("list_grants")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "granted_at", Value: -1}})
	cursor, err := s.grants.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find grants: %w", err)
	}
	defer cursor.Close(ctx)

	grants := []PurchaseGrant{}
	for cursor.Next(ctx) {
		var doc mongoGrant
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode grant: %w", err)
		}
		asset, err := money.GetAsset(doc.Currency)
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", doc.ID, err)
		}
		grants = append(grants, PurchaseGrant{
			ID:            doc.ID,
			UserID:        doc.UserID,
			AssetID:       doc.AssetID,
			Price:         money.New(asset, doc.PriceAtomic),
			PaymentMethod: doc.PaymentMethod,
			IntentID:      doc.IntentID,
			GrantedAt:     doc.GrantedAt,
		})
	}
	return grants, cursor.Err()
}

func (s *MongoDBStore) HasGrant(ctx context.Context, userID, assetID string) (bool, error) {
	defer s.measure("has_grant")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	count, err := s.grants.CountDocuments(ctx, bson.M{"user_id": userID, "asset_id": assetID})
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return count > 0, nil
}

// Close disconnects from MongoDB.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
