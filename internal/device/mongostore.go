package device

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = (*MongoStore)(nil)

// MongoStore reads the inventory from a MongoDB collection, one document per
// device.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
	}, nil
}

func (m *MongoStore) Load(ctx context.Context) ([]Descriptor, error) {
	cursor, err := m.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("Load: inventory query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var devs []Descriptor
	if err := cursor.All(ctx, &devs); err != nil {
		return nil, fmt.Errorf("Load: failed to decode inventory: %w", err)
	}
	return devs, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
