package match

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/provider"
	"github.com/3leaps/clipqueue/pkg/provider/file"
)

func writeFiles(t *testing.T, root string, files map[string]int) {
	t.Helper()
	for name, size := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", size)), 0o644))
	}
}

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestExpanderLocal(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]int{
		"clips/a.mp4":          10,
		"clips/b.MOV":          10,
		"clips/notes.txt":      10,
		"clips/2024/c.mkv":     2000,
		"clips/2024/draft.mp4": 10,
		"clips/.tmp/d.mp4":     10,
	})
	ext, err := NewExtensionMatcher(DefaultExtensions)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("recursive with allow-list", func(t *testing.T) {
		e := Expander{Extensions: ext, Excludes: []string{"**/draft*"}}
		got, err := e.Local(ctx, filepath.ToSlash(root)+"/clips/**/*")
		require.NoError(t, err)
		assert.Equal(t, []string{"c.mkv", "a.mp4", "b.MOV"}, names(got))
		for _, c := range got {
			assert.True(t, filepath.IsAbs(c.Location))
		}
	})

	t.Run("size filter", func(t *testing.T) {
		f, err := NewFilterFromConfig(&FilterConfig{Size: &SizeFilterConfig{Min: "1KB"}})
		require.NoError(t, err)
		got, err := Expander{Filter: f}.Local(ctx, filepath.ToSlash(root)+"/clips/**/*.mkv")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(2000), got[0].Object.Size)
	})

	t.Run("exact path", func(t *testing.T) {
		got, err := Expander{}.Local(ctx, filepath.Join(root, "clips", "a.mp4"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a.mp4"}, names(got))
	})

	t.Run("hidden included on request", func(t *testing.T) {
		got, err := Expander{IncludeHidden: true}.Local(ctx, filepath.ToSlash(root)+"/clips/**/d.mp4")
		require.NoError(t, err)
		assert.Equal(t, []string{"d.mp4"}, names(got))
	})

	t.Run("no matches", func(t *testing.T) {
		got, err := Expander{}.Local(ctx, filepath.ToSlash(root)+"/missing/*.mp4")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestExpanderRemote(t *testing.T) {
	store, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()
	for _, k := range []string{"in/a.mp4", "in/b.mov", "in/sub/c.webm", "in/readme.txt", "out/d.mp4"} {
		require.NoError(t, store.Put(ctx, k, strings.NewReader(k), int64(len(k))))
	}
	ext, err := NewExtensionMatcher(DefaultExtensions)
	require.NoError(t, err)

	got, err := Expander{Extensions: ext}.Remote(ctx, store, "in/**")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mov", "c.webm"}, names(got))
	assert.Equal(t, store.URI("in/a.mp4"), got[0].Location)

	got, err = Expander{}.Remote(ctx, store, "in/*.mov")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.mov"}, names(got))

	got, err = Expander{}.Remote(ctx, store, "out/d.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"d.mp4"}, names(got))

	_, err = Expander{}.Remote(ctx, store, "out/missing.mp4")
	assert.True(t, provider.IsNotFound(err))
}
