package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *OwnerConfig
		wantErr string
	}{
		{name: "empty", input: ""},
		{name: "valid", input: "1000:1000", want: &OwnerConfig{UID: 1000, GID: 1000}},
		{name: "root", input: "0:0", want: &OwnerConfig{}},
		{name: "missing gid", input: "1000", wantErr: "expected UID:GID"},
		{name: "too many parts", input: "1:2:3", wantErr: "expected UID:GID"},
		{name: "bad uid", input: "abc:1", wantErr: "invalid UID"},
		{name: "negative gid", input: "1:-1", wantErr: "invalid GID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.input)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMkdirAll_CurrentOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	owner := &OwnerConfig{UID: os.Getuid(), GID: os.Getgid()}

	require.NoError(t, MkdirAll(dir, 0o755, owner))
	assert.DirExists(t, dir)
	assert.Equal(t, "1000:42", (&OwnerConfig{UID: 1000, GID: 42}).String())

	// A nil owner only creates the directory.
	require.NoError(t, MkdirAll(filepath.Join(dir, "c"), 0o755, nil))
	assert.DirExists(t, filepath.Join(dir, "c"))
}
