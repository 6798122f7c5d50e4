package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("UTILS_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnvWithDefault("UTILS_TEST_KEY", "fallback"))

	t.Setenv("UTILS_TEST_KEY", "")
	assert.Equal(t, "fallback", GetEnvWithDefault("UTILS_TEST_KEY", "fallback"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.False(t, Contains(nil, "a"))
}

func TestCreateFileMakesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "file.db")
	f, err := CreateFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.FileExists(t, path)
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "****6789", MaskString("123456789"))
	assert.Equal(t, "abc", MaskString("abc"))
}
