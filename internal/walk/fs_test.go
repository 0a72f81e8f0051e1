package walk_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/renderq/internal/walk"
	"github.com/stretchr/testify/require"
)

func creat(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("BLENDER"), 0o644))
	}
}

func TestPaths(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	creat(t, root,
		"shots/010/main.blend",
		"shots/020/main.BLEND",
		"shots/020/main.blend1",
		"shots/notes.txt",
		"single.blend",
		"other.scene",
	)
	join := func(s string) string { return filepath.Join(root, filepath.FromSlash(s)) }

	t.Run("file", func(t *testing.T) {
		got, err := walk.Collect(t.Context(), join("other.scene"), join("single.blend"))
		require.NoError(t, err)
		require.Equal(t, []string{join("other.scene"), join("single.blend")}, got)
	})

	t.Run("dir", func(t *testing.T) {
		got, err := walk.Collect(t.Context(), join("shots"))
		require.NoError(t, err)
		require.Equal(t, []string{join("shots/010/main.blend"), join("shots/020/main.BLEND")}, got)
	})

	t.Run("glob", func(t *testing.T) {
		got, err := walk.Collect(t.Context(), filepath.Join(root, "**", "*.blend"))
		require.NoError(t, err)
		require.ElementsMatch(t, []string{join("shots/010/main.blend"), join("single.blend")}, got)
	})

	t.Run("duplicates kept", func(t *testing.T) {
		got, err := walk.Collect(t.Context(), join("single.blend"), join("single.blend"))
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := walk.Collect(t.Context(), join("missing.blend"))
		require.ErrorIs(t, err, fs.ErrNotExist)
		_, err = walk.Collect(t.Context(), filepath.Join(root, "*.nothing"))
		require.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("errors do not stop the sequence", func(t *testing.T) {
		var paths []string
		var errs int
		for path, err := range walk.Paths(t.Context(), join("missing.blend"), join("single.blend")) {
			if err != nil {
				errs++
				continue
			}
			paths = append(paths, path)
		}
		require.Equal(t, 1, errs)
		require.Equal(t, []string{join("single.blend")}, paths)
	})
}
