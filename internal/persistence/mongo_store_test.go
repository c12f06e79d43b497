package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/dalma/internal/testutil"
)

type MongoStoreTestSuite struct {
	suite.Suite
	client *mongo.Client
	store  *MongoStore
}

func TestMongoStoreTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	suite.Run(t, &MongoStoreTestSuite{
		client: client,
		store:  NewMongoStore(client, "dalma_test", "conversations_test"),
	})
}

func (m *MongoStoreTestSuite) SetupTest() {
	ctx := context.Background()
	m.Require().NoError(m.store.coll.Drop(ctx))
	m.Require().NoError(m.store.meta.Drop(ctx))
}

func (m *MongoStoreTestSuite) TestContract() {
	testStoreContract(m.T(), func(t *testing.T) Store {
		m.SetupTest()
		return m.store
	})
}

func (m *MongoStoreTestSuite) TestContinuationOnlyIsNotListed() {
	ctx := context.Background()
	m.Require().NoError(m.store.SaveContinuation(ctx, 5, []byte("c")))

	ids, err := m.store.ListConversations(ctx)
	m.Require().NoError(err)
	m.Empty(ids)

	_, err = m.store.LoadState(ctx, 5)
	m.ErrorIs(err, ErrNotFound)
}
