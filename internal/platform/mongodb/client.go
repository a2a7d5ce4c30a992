// Package mongodb connects to MongoDB and provides the small helpers the
// document-backed repositories share.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const closeTimeout = 5 * time.Second

// CountersCollection holds one sequence document per counter name.
const CountersCollection = "counters"

// Client wraps a connected driver client and the database in use.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewClient connects to uri, verifies the connection with a ping and selects
// database.
func NewClient(ctx context.Context, uri, database string) (*Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

// Database returns the selected database.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Close disconnects the client.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Name implements db.Checker.
func (c *Client) Name() string { return "mongo" }

// Ping implements db.Checker.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Stats implements db.Checker.
func (c *Client) Stats() interface{} {
	return map[string]interface{}{
		"database":      c.db.Name(),
		"open_sessions": c.client.NumberSessionsInProgress(),
	}
}

// NextSeq atomically increments and returns the named counter. The counter
// document is created on first use.
func NextSeq(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	)
	if err := res.Err(); err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode %s sequence: %w", name, err)
	}
	return doc.Seq, nil
}

// EnsureIndexes creates the given indexes per collection. Creating an index
// that already exists with the same definition is a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database, collections map[string][]mongo.IndexModel) error {
	for name, indexes := range collections {
		if len(indexes) == 0 {
			continue
		}
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes for %s: %w", name, err)
		}
	}
	return nil
}
