package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestFS(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, Put(ctx, fs, "2024-05/17/10-00-00-abc.jpg", []byte("hello")))
	b, err := Get(ctx, fs, "2024-05/17/10-00-00-abc.jpg")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	blob, err := fs.Reader(ctx, "2024-05/17/10-00-00-abc.jpg")
	require.NoError(t, err)
	require.EqualValues(t, 5, blob.Size)
	blob.Reader.Close()

	_, err = fs.URL("x")
	require.ErrorIs(t, err, ErrNoPublicURL)

	require.NoError(t, Put(ctx, fs, "2024-05/18/09-00-00-def.jpg", []byte("world")))
	names, err := fs.List()
	require.NoError(t, err)
	require.Equal(t, []string{"2024-05/17/10-00-00-abc.jpg", "2024-05/18/09-00-00-def.jpg"}, names)

	require.NoError(t, fs.Delete(ctx, "2024-05/17/10-00-00-abc.jpg"))
	_, err = Get(ctx, fs, "2024-05/17/10-00-00-abc.jpg")
	require.Error(t, err)

	// The emptied day directory is pruned, but the month still has a blob
	_, err = os.Stat(filepath.Join(fs.Root, "2024-05", "17"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(fs.Root, "2024-05"))
	require.NoError(t, err)
}

func TestFSWriterIsAtomic(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	w, err := fs.Writer(ctx, "a/b.jpg")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Not visible until Close
	_, err = fs.Reader(ctx, "a/b.jpg")
	require.Error(t, err)
	names, err := fs.List()
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, w.Close())
	b, err := Get(ctx, fs, "a/b.jpg")
	require.NoError(t, err)
	require.Equal(t, "partial", string(b))
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "../escape", "/abs", "a/../../b"} {
		require.ErrorIs(t, Put(ctx, fs, name, []byte("x")), ErrInvalidName, name)
	}
}
