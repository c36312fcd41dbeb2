package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o755))
	for _, name := range []string{"b.hcl", "a.hcl", "ignore.txt", filepath.Join("nested", "c.hcl")} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	t.Run("finds matches recursively, sorted", func(t *testing.T) {
		files, err := FindFilesByExtension(root, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "a.hcl"),
			filepath.Join(root, "b.hcl"),
			filepath.Join(root, "nested", "c.hcl"),
		}, files)
	})

	t.Run("no matches", func(t *testing.T) {
		files, err := FindFilesByExtension(root, ".json")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("empty extension", func(t *testing.T) {
		_, err := FindFilesByExtension(root, "")
		assert.Error(t, err)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := FindFilesByExtension(filepath.Join(root, "dne"), ".hcl")
		assert.Error(t, err)
	})
}
