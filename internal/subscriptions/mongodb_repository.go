package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxExtendAttempts = 8

// ErrContention is returned when an optimistic extend keeps losing to concurrent writers.
var ErrContention = errors.New("subscriptions: too much write contention")

// MongoDBRepository implements Repository using MongoDB with a version field
// for compare-and-swap updates.
type MongoDBRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoEntitlement struct {
	UserID    string     `bson:"_id"`
	Active    bool       `bson:"active"`
	ExpiresOn *time.Time `bson:"expires_on,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at"`
	Version   int64      `bson:"version"`
}

// NewMongoDBRepository connects to MongoDB.
func NewMongoDBRepository(connectionString, database, collection string) (*MongoDBRepository, error) {
	if connectionString == "" || database == "" {
		return nil, fmt.Errorf("mongodb backend requires mongodb_url and mongodb_database")
	}
	if collection == "" {
		collection = "user_entitlements"
	}
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
	return &MongoDBRepository{client: client, collection: client.Database(database).Collection(collection)}, nil
}

func (r *MongoDBRepository) load(ctx context.Context, userID string) (mongoEntitlement, bool, error) {
	var doc mongoEntitlement
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return mongoEntitlement{UserID: userID}, false, nil
	}
	if err != nil {
		return mongoEntitlement{}, false, fmt.Errorf("find entitlement: %w", err)
	}
	return doc, true, nil
}

func (r *MongoDBRepository) Get(ctx context.Context, userID string) (Entitlement, error) {
	doc, _, err := r.load(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	return doc.toEntitlement(), nil
}

func (r *MongoDBRepository) Extend(ctx context.Context, userID string, months int, today time.Time) (Entitlement, error) {
	if err := validateExtension(userID, months); err != nil {
		return Entitlement{}, err
	}

	for attempt := 0; attempt < maxExtendAttempts; attempt++ {
		doc, exists, err := r.load(ctx, userID)
		if err != nil {
			return Entitlement{}, err
		}
		next := ExtendFrom(doc.ExpiresOn, today, months)
		updated := mongoEntitlement{
			UserID:    userID,
			Active:    true,
			ExpiresOn: &next,
			UpdatedAt: time.Now().UTC(),
			Version:   doc.Version + 1,
		}

		if !exists {
			_, err := r.collection.InsertOne(ctx, updated)
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return Entitlement{}, fmt.Errorf("insert entitlement: %w", err)
			}
			return updated.toEntitlement(), nil
		}

		result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": userID, "version": doc.Version}, updated)
		if err != nil {
			return Entitlement{}, fmt.Errorf("replace entitlement: %w", err)
		}
		if result.MatchedCount == 1 {
			return updated.toEntitlement(), nil
		}
	}
	return Entitlement{}, ErrContention
}

func (r *MongoDBRepository) Deactivate(ctx context.Context, userID string) error {
	update := bson.M{
		"$set":   bson.M{"active": false, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"expires_on": ""},
		"$inc":   bson.M{"version": 1},
	}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
		return fmt.Errorf("deactivate entitlement: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func (d mongoEntitlement) toEntitlement() Entitlement {
	e := Entitlement{UserID: d.UserID, Active: d.Active, UpdatedAt: d.UpdatedAt}
	if d.ExpiresOn != nil {
		date := DateOf(*d.ExpiresOn)
		e.ExpiresOn = &date
	}
	return e
}
