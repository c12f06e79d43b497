package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	engineFile       = "dalma.xml"
	conversationsDir = "conversations"
	stateFile        = "conversation.xml"
	continuationFile = "continuation"
)

// FileStore keeps records in a directory tree:
//
//	<root>/dalma.xml
//	<root>/conversations/<id>/conversation.xml
//	<root>/conversations/<id>/continuation
//
// Every write goes to a temporary file in the target directory, is synced
// and then renamed over the destination, so readers never see a partial
// record.
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates root if needed and returns a store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, conversationsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory the store writes to.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) convDir(id int) string {
	return filepath.Join(s.root, conversationsDir, strconv.Itoa(id))
}

func (s *FileStore) LoadEngine(ctx context.Context) ([]byte, error) {
	return readFile(filepath.Join(s.root, engineFile))
}

func (s *FileStore) SaveEngine(ctx context.Context, data []byte) error {
	return writeFileAtomic(filepath.Join(s.root, engineFile), data)
}

func (s *FileStore) ListConversations(ctx context.Context) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, conversationsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		// A directory without a state record is a crash leftover.
		if _, err := os.Stat(filepath.Join(s.convDir(id), stateFile)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *FileStore) LoadState(ctx context.Context, id int) ([]byte, error) {
	return readFile(filepath.Join(s.convDir(id), stateFile))
}

func (s *FileStore) SaveState(ctx context.Context, id int, data []byte) error {
	if err := os.MkdirAll(s.convDir(id), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.convDir(id), stateFile), data)
}

func (s *FileStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	return readFile(filepath.Join(s.convDir(id), continuationFile))
}

func (s *FileStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	if err := os.MkdirAll(s.convDir(id), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.convDir(id), continuationFile), data)
}

func (s *FileStore) DeleteContinuation(ctx context.Context, id int) error {
	err := os.Remove(filepath.Join(s.convDir(id), continuationFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) DeleteConversation(ctx context.Context, id int) error {
	return os.RemoveAll(s.convDir(id))
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
