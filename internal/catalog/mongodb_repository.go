package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/money"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBRepository implements Repository using MongoDB.
type MongoDBRepository struct {
	client *mongo.Client
	plans  *mongo.Collection
	assets *mongo.Collection
}

type mongoPlan struct {
	Code          string `bson:"_id"`
	Name          string `bson:"name"`
	PriceAtomic   int64  `bson:"priceAtomic"`
	Currency      string `bson:"currency"`
	Months        int    `bson:"months"`
	StripePriceID string `bson:"stripePriceId"`
	Active        bool   `bson:"active"`
}

type mongoAsset struct {
	ID          string `bson:"_id"`
	Title       string `bson:"title"`
	PriceAtomic int64  `bson:"priceAtomic"`
	Currency    string `bson:"currency"`
	Active      bool   `bson:"active"`
}

// NewMongoDBRepository connects and ensures the active-flag indexes exist.
func NewMongoDBRepository(connectionString, database, plansCollection, assetsCollection string) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	repo := &MongoDBRepository{
		client: client,
		plans:  db.Collection(plansCollection),
		assets: db.Collection(assetsCollection),
	}

	active := []mongo.IndexModel{{Keys: bson.D{{Key: "active", Value: 1}}}}
	for _, coll := range []*mongo.Collection{repo.plans, repo.assets} {
		if _, err := coll.Indexes().CreateMany(ctx, active); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("create indexes: %w", err)
		}
	}
	return repo, nil
}

// GetPlan retrieves an active plan by code.
func (r *MongoDBRepository) GetPlan(ctx context.Context, code string) (Plan, error) {
	var doc mongoPlan
	err := r.plans.FindOne(ctx, bson.M{"_id": code, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("find plan: %w", err)
	}
	return doc.toPlan()
}

// GetAsset retrieves an active asset by id.
func (r *MongoDBRepository) GetAsset(ctx context.Context, id string) (Asset, error) {
	var doc mongoAsset
	err := r.assets.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("find asset: %w", err)
	}
	asset, err := money.GetAsset(doc.Currency)
	if err != nil {
		return Asset{}, fmt.Errorf("asset %s: %w", id, err)
	}
	return Asset{ID: doc.ID, Title: doc.Title, Price: money.New(asset, doc.PriceAtomic), Active: doc.Active}, nil
}

// ListPlans returns all active plans ordered by code.
func (r *MongoDBRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.plans.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("find plans: %w", err)
	}
	defer cursor.Close(ctx)

	var plans []Plan
	for cursor.Next(ctx) {
		var doc mongoPlan
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		plan, err := doc.toPlan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, cursor.Err()
}

// Close disconnects from MongoDB.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func (d mongoPlan) toPlan() (Plan, error) {
	asset, err := money.GetAsset(d.Currency)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", d.Code, err)
	}
	months := d.Months
	if months <= 0 {
		months = config.DefaultPlanMonths(d.Code)
	}
	return Plan{
		Code:          d.Code,
		Name:          d.Name,
		Price:         money.New(asset, d.PriceAtomic),
		Months:        months,
		StripePriceID: d.StripePriceID,
		Active:        d.Active,
	}, nil
}
