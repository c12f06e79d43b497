package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/dalma/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	store *SQLStore
}

func TestPostgresStoreTestSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgresStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	suite.Run(t, &PostgresStoreTestSuite{db: db, store: store})
}

func (p *PostgresStoreTestSuite) SetupTest() {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx, `TRUNCATE dalma_engine, dalma_conversations`)
	p.Require().NoError(err)
}

func (p *PostgresStoreTestSuite) TestContract() {
	testStoreContract(p.T(), func(t *testing.T) Store {
		p.SetupTest()
		return p.store
	})
}

func (p *PostgresStoreTestSuite) TestUpsertKeepsOtherColumn() {
	ctx := context.Background()
	p.Require().NoError(p.store.SaveContinuation(ctx, 1, []byte("c")))
	p.Require().NoError(p.store.SaveState(ctx, 1, []byte("s")))

	cont, err := p.store.LoadContinuation(ctx, 1)
	p.Require().NoError(err)
	p.Equal("c", string(cont))
}
