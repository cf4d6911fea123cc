package nn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelIndex(t *testing.T) {
	idx := NewLabelIndex([]string{"person", "bicycle", "car"}, 2)
	require.Equal(t, 2, idx.NumClasses())
	require.Equal(t, "person", idx.Name(0))
	require.Equal(t, "bicycle", idx.Name(1))
	require.Equal(t, UnknownClassName, idx.Name(2))
	require.Equal(t, UnknownClassName, idx.Name(-1))
	require.Equal(t, 1, idx.ClassOf("bicycle"))
	require.Equal(t, -1, idx.ClassOf("car"))

	// More classes than names
	idx = NewLabelIndex([]string{"person"}, 3)
	require.Equal(t, 3, idx.NumClasses())
	require.Equal(t, "person", idx.Name(0))
	require.Equal(t, UnknownClassName, idx.Name(2))

	// Zero means "all of them"
	idx = NewLabelIndex([]string{"a", "b"}, 0)
	require.Equal(t, 2, idx.NumClasses())
}

func TestLoadLabelIndex(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(fn, []byte("person\n\n  dog \ncat\n"), 0644))
	idx, err := LoadLabelIndex(fn, 90)
	require.NoError(t, err)
	require.Equal(t, "dog", idx.Name(1))
	require.Equal(t, "cat", idx.Name(2))
	require.Equal(t, UnknownClassName, idx.Name(3))

	idx, err = LoadLabelIndex("builtin:coco", 80)
	require.NoError(t, err)
	require.Equal(t, "person", idx.Name(0))
	require.Equal(t, "toothbrush", idx.Name(79))

	_, err = LoadLabelIndex("builtin:nope", 1)
	require.Error(t, err)

	_, err = LoadLabelIndex(filepath.Join(dir, "missing.txt"), 1)
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = LoadLabelIndex(empty, 1)
	require.Error(t, err)
}
