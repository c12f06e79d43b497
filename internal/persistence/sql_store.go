package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// dialect captures what differs between the SQL databases we support.
type dialect struct {
	name string
	blob string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		name:        "sqlite",
		blob:        "BLOB",
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:        "postgres",
		blob:        "BYTEA",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// SQLStore is a Store over database/sql. One row per conversation holds
// both records, so a save is a single upsert.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("%s: init schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dalma_engine (
			id INTEGER PRIMARY KEY,
			data ` + s.dialect.blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dalma_conversations (
			id INTEGER PRIMARY KEY,
			state ` + s.dialect.blob + `,
			continuation ` + s.dialect.blob + `
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites '?' placeholders into the dialect's form.
func (s *SQLStore) q(query string) string {
	if s.dialect.name == sqliteDialect.name {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) LoadEngine(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data FROM dalma_engine WHERE id = 1`)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *SQLStore) SaveEngine(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO dalma_engine (id, data) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`),
		data,
	)
	return err
}

func (s *SQLStore) ListConversations(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id FROM dalma_conversations
		WHERE state IS NOT NULL
		ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) LoadState(ctx context.Context, id int) ([]byte, error) {
	return s.loadColumn(ctx, "state", id)
}

func (s *SQLStore) SaveState(ctx context.Context, id int, data []byte) error {
	return s.saveColumn(ctx, "state", id, data)
}

func (s *SQLStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	return s.loadColumn(ctx, "continuation", id)
}

func (s *SQLStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	return s.saveColumn(ctx, "continuation", id, data)
}

func (s *SQLStore) DeleteContinuation(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE dalma_conversations SET continuation = NULL WHERE id = ?`), id)
	return err
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM dalma_conversations WHERE id = ?`), id)
	return err
}

// column is one of the two fixed column names; it is never user input.
func (s *SQLStore) loadColumn(ctx context.Context, column string, id int) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+column+` FROM dalma_conversations WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *SQLStore) saveColumn(ctx context.Context, column string, id int, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO dalma_conversations (id, `+column+`) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET `+column+` = excluded.`+column),
		id, data,
	)
	return err
}
