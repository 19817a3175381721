package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProcessInputLocal(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "take1.mov")
	require.NoError(t, os.WriteFile(clip, []byte("video"), 0o644))

	location, name, store, err := resolveProcessInput(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, clip, location)
	assert.Equal(t, "take1.mov", name)
	assert.Nil(t, store)
}

func TestResolveProcessInputErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		arg  string
		code int
	}{
		{"missing file", filepath.Join(dir, "missing.mp4"), foundry.ExitFileNotFound},
		{"directory", dir, foundry.ExitInvalidArgument},
		{"bucket only", "s3://footage", foundry.ExitInvalidArgument},
		{"prefix", "s3://footage/in/", foundry.ExitInvalidArgument},
		{"no bucket", "s3:///in/a.mp4", foundry.ExitInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := resolveProcessInput(context.Background(), tt.arg)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCode(err))
		})
	}
}
