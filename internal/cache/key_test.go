package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestComputeKeyStable(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")

	k1, err := ComputeKey([]string{a, b}, []string{"aux"})
	require.NoError(t, err)
	k2, err := ComputeKey([]string{a, b}, []string{"aux"})
	require.NoError(t, err)

	assert.Equal(t, k1.Digest, k2.Digest)
	assert.Len(t, k1.Digest, 32)
	assert.Len(t, k1.Files, 2)
}

func TestComputeKeyOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")

	k1, err := ComputeKey([]string{a, b}, nil)
	require.NoError(t, err)
	k2, err := ComputeKey([]string{b, a}, nil)
	require.NoError(t, err)

	assert.Equal(t, k1.Digest, k2.Digest, "enumeration order must not change the key")
}

func TestComputeKeySensitivity(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")

	base, err := ComputeKey([]string{a}, []string{"x"})
	require.NoError(t, err)

	t.Run("aux string change", func(t *testing.T) {
		k, err := ComputeKey([]string{a}, []string{"y"})
		require.NoError(t, err)
		assert.NotEqual(t, base.Digest, k.Digest)
	})

	t.Run("mtime change", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(a, past, past))
		k, err := ComputeKey([]string{a}, []string{"x"})
		require.NoError(t, err)
		assert.NotEqual(t, base.Digest, k.Digest)
	})

	t.Run("size change", func(t *testing.T) {
		writeFile(t, dir, "a.txt", "alpha-longer")
		k, err := ComputeKey([]string{a}, []string{"x"})
		require.NoError(t, err)
		assert.NotEqual(t, base.Digest, k.Digest)
	})
}

func TestComputeKeyMissingFile(t *testing.T) {
	_, err := ComputeKey([]string{filepath.Join(t.TempDir(), "absent")}, nil)
	assert.Error(t, err)
}

func TestComputeKeySeparatorInjection(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide thanks to explicit separators.
	k1, err := ComputeKey(nil, []string{"ab", "c"})
	require.NoError(t, err)
	k2, err := ComputeKey(nil, []string{"a", "bc"})
	require.NoError(t, err)
	assert.NotEqual(t, k1.Digest, k2.Digest)
}

func TestRevalidate(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")

	k, err := ComputeKey([]string{a}, nil)
	require.NoError(t, err)
	assert.True(t, revalidate(k.Files))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(a, past, past))
	assert.False(t, revalidate(k.Files))

	require.NoError(t, os.Remove(a))
	assert.False(t, revalidate(k.Files))
}
