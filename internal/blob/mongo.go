package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

type mongoBlob struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	Size      int       `bson:"size"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore keeps blobs in a MongoDB collection keyed by content id.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("blobs")}
}

// ConnectMongo dials uri and pings the primary before returning.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	slog.Info("Connected to MongoDB")
	return client, nil
}

func (s *MongoStore) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	if id == models.EmptyRef {
		return id, nil
	}
	doc := mongoBlob{ID: id, Data: data, Size: len(data), CreatedAt: time.Now().UTC()}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == models.EmptyRef {
		return []byte{}, nil
	}
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	var doc mongoBlob
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("Get")
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}
