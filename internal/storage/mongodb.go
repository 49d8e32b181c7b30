package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoBackend stores documents per collection with a "_id" key field.
// Counters use $inc upserts via FindOneAndUpdate; locks are documents
// replaced only when expired.
type MongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

const (
	mongoCountersCollection = "_counters"
	mongoLocksCollection    = "_locks"
)

// NewMongoBackend connects and verifies the deployment is reachable.
func NewMongoBackend(uri, database string) (*MongoBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoBackend{client: client, db: client.Database(database)}, nil
}

func (m *MongoBackend) Save(ctx context.Context, collection, key string, data Document) error {
	doc := bson.M{"_id": key, "data": bson.M(data)}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (m *MongoBackend) Get(ctx context.Context, collection, key string) (Document, error) {
	var record struct {
		Data Document `bson:"data"`
	}
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return record.Data, nil
}

func (m *MongoBackend) Delete(ctx context.Context, collection, key string) (bool, error) {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (m *MongoBackend) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter := bson.M{}
	for field, value := range q.Filters {
		filter["data."+field] = value
	}

	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var results []Document
	for cursor.Next(ctx) {
		var record struct {
			ID   string   `bson:"_id"`
			Data Document `bson:"data"`
		}
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		doc := record.Data
		if doc == nil {
			doc = Document{}
		}
		doc[KeyField] = record.ID
		results = append(results, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return results, nil
}

func (m *MongoBackend) Update(ctx context.Context, collection, key string, data Document) (bool, error) {
	set := bson.M{}
	for field, value := range data {
		set["data."+field] = value
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *MongoBackend) Count(ctx context.Context, collection string, filters map[string]any) (int, error) {
	filter := bson.M{}
	for field, value := range filters {
		filter["data."+field] = value
	}

	count, err := m.db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(count), nil
}

func (m *MongoBackend) Clear(ctx context.Context, collection string) (int, error) {
	res, err := m.db.Collection(collection).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear collection: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (m *MongoBackend) AtomicAdd(ctx context.Context, collection, key string, delta int64) (int64, error) {
	id := collection + "/" + key
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var record struct {
		Value int64 `bson:"value"`
	}
	err := m.db.Collection(mongoCountersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"value": delta}},
		opts,
	).Decode(&record)
	if err != nil {
		return 0, fmt.Errorf("atomic add: %w", err)
	}
	return record.Value, nil
}

func (m *MongoBackend) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	now := time.Now()
	doc := bson.M{"_id": key, "token": token, "expires_at": now.Add(ttl)}

	// Replace only documents whose holder has expired; an insert race or
	// a live holder both surface as a duplicate-key/no-match outcome.
	filter := bson.M{"_id": key, "expires_at": bson.M{"$lte": now}}
	opts := options.Replace().SetUpsert(true)
	_, err := m.db.Collection(mongoLocksCollection).ReplaceOne(ctx, filter, doc, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", nil
		}
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	return token, nil
}

func (m *MongoBackend) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	res, err := m.db.Collection(mongoLocksCollection).DeleteOne(ctx, bson.M{"_id": key, "token": token})
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (m *MongoBackend) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	return nil
}

func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
