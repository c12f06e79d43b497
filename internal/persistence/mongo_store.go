package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a Store backed by MongoDB. Conversations are documents
// keyed by their integer ID; the engine record lives in a separate
// "<collName>_meta" collection.
type MongoStore struct {
	coll *mongo.Collection
	meta *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store.
// dbName defaults to "dalma" if empty, collName defaults to
// "conversations".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "dalma"
	}
	if collName == "" {
		collName = "conversations"
	}
	db := client.Database(dbName)
	return &MongoStore{
		coll: db.Collection(collName),
		meta: db.Collection(collName + "_meta"),
	}
}

type mongoConversationDoc struct {
	ID           int    `bson:"_id"`
	State        []byte `bson:"state,omitempty"`
	Continuation []byte `bson:"continuation,omitempty"`
}

type mongoEngineDoc struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

const mongoEngineID = "engine"

func (s *MongoStore) LoadEngine(ctx context.Context) ([]byte, error) {
	var doc mongoEngineDoc
	err := s.meta.FindOne(ctx, bson.M{"_id": mongoEngineID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.Data, nil
}

func (s *MongoStore) SaveEngine(ctx context.Context, data []byte) error {
	_, err := s.meta.ReplaceOne(ctx,
		bson.M{"_id": mongoEngineID},
		mongoEngineDoc{ID: mongoEngineID, Data: data},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) ListConversations(ctx context.Context) ([]int, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"state": bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []int
	for cur.Next(ctx) {
		var doc mongoConversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func (s *MongoStore) LoadState(ctx context.Context, id int) ([]byte, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State == nil {
		return nil, ErrNotFound
	}
	return doc.State, nil
}

func (s *MongoStore) SaveState(ctx context.Context, id int, data []byte) error {
	return s.set(ctx, id, "state", data)
}

func (s *MongoStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Continuation == nil {
		return nil, ErrNotFound
	}
	return doc.Continuation, nil
}

func (s *MongoStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	return s.set(ctx, id, "continuation", data)
}

func (s *MongoStore) DeleteContinuation(ctx context.Context, id int) error {
	_, err := s.coll.UpdateByID(ctx, id, bson.M{"$unset": bson.M{"continuation": ""}})
	return err
}

func (s *MongoStore) DeleteConversation(ctx context.Context, id int) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *MongoStore) find(ctx context.Context, id int) (*mongoConversationDoc, error) {
	var doc mongoConversationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) set(ctx context.Context, id int, field string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.coll.UpdateByID(ctx, id,
		bson.M{"$set": bson.M{field: data}},
		options.Update().SetUpsert(true),
	)
	return err
}
