package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, s.SaveEngine(ctx, []byte("<dalma/>")))
	require.NoError(t, s.SaveState(ctx, 4, []byte("<conversation/>")))
	require.NoError(t, s.SaveContinuation(ctx, 4, []byte{1, 2, 3}))

	require.FileExists(t, filepath.Join(root, "dalma.xml"))
	require.FileExists(t, filepath.Join(root, "conversations", "4", "conversation.xml"))
	require.FileExists(t, filepath.Join(root, "conversations", "4", "continuation"))

	require.NoError(t, s.DeleteConversation(ctx, 4))
	require.NoDirExists(t, filepath.Join(root, "conversations", "4"))
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveState(ctx, 1, []byte{byte(i)}))
	}

	entries, err := os.ReadDir(filepath.Join(root, "conversations", "1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "conversation.xml", entries[0].Name())
}

func TestFileStore_IgnoresStrayDirectories(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "conversations", "tmp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conversations", "8"), 0o755))
	require.NoError(t, s.SaveState(ctx, 2, []byte("s")))

	ids, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{2}, ids)
}
