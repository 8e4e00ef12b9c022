package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathGuard_Resolve(t *testing.T) {
	base := t.TempDir()
	guard, err := newPathGuard(base)
	require.NoError(t, err)

	path, err := guard.Resolve("tree.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(guard.base, "tree.yaml"), path)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"parent traversal", "../tree.yaml"},
		{"absolute", "/etc/passwd"},
		{"too long", string(make([]byte, 300))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := guard.Resolve(tt.input)
			var pathErr *PathError
			assert.ErrorAs(t, err, &pathErr)
		})
	}
}

func TestPathGuard_RejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.yaml")
	require.NoError(t, os.WriteFile(target, []byte("id: secret"), 0600))
	if err := os.Symlink(target, filepath.Join(base, "link.yaml")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	guard, err := newPathGuard(base)
	require.NoError(t, err)

	_, err = guard.Resolve("link.yaml")
	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Contains(t, pathErr.Reason, "escapes")
	assert.NotEmpty(t, pathErr.ResolvedPath)
}

func TestNewPathGuard_RequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	_, err := newPathGuard(file)
	assert.Error(t, err)

	_, err = newPathGuard(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
