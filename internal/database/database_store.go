package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore 每个房间一个文档, 以 room_id 唯一索引
type MongoStore struct {
	client           *mongo.Client
	collection       *mongo.Collection
	operationTimeout time.Duration
}

func NewMongoStore(ctx context.Context, client *mongo.Client, database, collection string, operationTimeout time.Duration) (*MongoStore, error) {
	if collection == "" {
		collection = SnapshotCollectionName
	}
	if operationTimeout <= 0 {
		operationTimeout = 5 * time.Second
	}
	coll := client.Database(database).Collection(collection)

	_, err := coll.Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "room_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("snapshots_room_id_unique"),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	return &MongoStore{client: client, collection: coll, operationTimeout: operationTimeout}, nil
}

func wrapMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrSnapshotNotFound
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ms *MongoStore) LoadSnapshot(ctx context.Context, roomID string) ([]element.Committed, error) {
	if roomID == "" {
		return nil, ErrRoomIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ms.operationTimeout)
	defer cancel()

	var doc SnapshotDocument
	startTime := time.Now()
	err := ms.collection.FindOne(ctx, bson.D{{Key: "room_id", Value: roomID}}).Decode(&doc)
	logger.DebugF("snapshot query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, wrapMongoError(err)
	}
	return doc.Elements, nil
}

func (ms *MongoStore) SaveSnapshot(ctx context.Context, roomID string, elements []element.Committed) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ms.operationTimeout)
	defer cancel()

	doc := SnapshotDocument{RoomID: roomID, Elements: nonNil(elements), UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)

	result, err := ms.collection.ReplaceOne(ctx, bson.D{{Key: "room_id", Value: roomID}}, doc, opts)
	if err != nil {
		return wrapMongoError(err)
	}

	logger.DebugF("Snapshot saved: room_id=%s, elements=%d, matched=%d, modified=%d, upserted=%v",
		roomID,
		len(elements),
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ms *MongoStore) Ping(ctx context.Context) error {
	return ms.client.Ping(ctx, nil)
}

func (ms *MongoStore) Close(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	return ms.client.Disconnect(ctx)
}

func nonNil(elements []element.Committed) []element.Committed {
	if elements == nil {
		return []element.Committed{}
	}
	return elements
}
