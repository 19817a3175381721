package provider_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/provider"
	"github.com/3leaps/clipqueue/pkg/provider/file"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		in      string
		want    provider.Location
		wantErr bool
	}{
		{in: "s3://renders/in/clip.mp4", want: provider.Location{Scheme: "s3", Bucket: "renders", Key: "in/clip.mp4"}},
		{in: "S3://renders/", want: provider.Location{Scheme: "s3", Bucket: "renders", Key: ""}},
		{in: "s3://renders", want: provider.Location{Scheme: "s3", Bucket: "renders"}},
		{in: "s3:///key", wantErr: true},
		{in: "gs://bucket/key", wantErr: true},
		{in: "/local/clip.mp4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := provider.ParseURI(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, provider.IsRemote("s3://b/k"))
	assert.False(t, provider.IsRemote("uploads/clip.mp4"))
	assert.Equal(t, "s3://b/k/x.mov", provider.Location{Scheme: "s3", Bucket: "b", Key: "k/x.mov"}.String())
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "clip.mov", provider.JoinKey("", "clip.mov"))
	assert.Equal(t, "renders/clip.mov", provider.JoinKey("/renders/", "/clip.mov"))
}

func TestProviderErrorHelpers(t *testing.T) {
	err := &provider.ProviderError{Op: "Put", Provider: provider.ProviderS3, Bucket: "b", Key: "k", Err: provider.ErrThrottled}
	assert.Equal(t, "s3 Put: b/k: request throttled", err.Error())
	assert.True(t, provider.IsRetryable(err))
	assert.False(t, provider.IsNotFound(err))

	assert.Equal(t, "s3 List: b: bucket not found",
		(&provider.ProviderError{Op: "List", Provider: provider.ProviderS3, Bucket: "b", Err: provider.ErrBucketNotFound}).Error())
	assert.True(t, provider.IsNotFound(&provider.ProviderError{Err: provider.ErrBucketNotFound}))
	assert.True(t, provider.IsAccessDenied(&provider.ProviderError{Err: provider.ErrInvalidCredentials}))
}

func newFileProvider(t *testing.T) (*file.Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := file.New(file.Config{BaseDir: dir})
	require.NoError(t, err)
	return p, dir
}

func TestFileProviderRoundTrip(t *testing.T) {
	p, dir := newFileProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, "renders/clip_4k.mp4", strings.NewReader("data"), 4))
	assert.FileExists(t, filepath.Join(dir, "renders", "clip_4k.mp4"))

	meta, err := p.Head(ctx, "renders/clip_4k.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), meta.Size)

	body, size, err := p.Get(ctx, "renders/clip_4k.mp4")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Equal(t, "data", string(data))
	assert.Equal(t, int64(4), size)

	_, err = p.Head(ctx, "renders/missing.mp4")
	assert.True(t, provider.IsNotFound(err))
	_, _, err = p.Get(ctx, "renders")
	assert.Error(t, err)

	// keys cannot climb out of the base directory
	require.NoError(t, p.Put(ctx, "../escape.mp4", strings.NewReader("x"), 1))
	assert.FileExists(t, filepath.Join(dir, "escape.mp4"))
	assert.Error(t, p.Put(ctx, "short.mp4", strings.NewReader("x"), 5), "size mismatch")
	assert.NoFileExists(t, filepath.Join(dir, "short.mp4"))

	assert.True(t, strings.HasPrefix(p.URI("renders/clip_4k.mp4"), "file://"))
	assert.True(t, strings.HasSuffix(p.URI("renders/clip_4k.mp4"), "/renders/clip_4k.mp4"))
}

func TestFileProviderListAndWalk(t *testing.T) {
	p, _ := newFileProvider(t)
	ctx := context.Background()
	for _, k := range []string{"in/a.mp4", "in/b.mov", "in/sub/c.mkv", "inbox/d.mp4", "out/e.mov"} {
		require.NoError(t, p.Put(ctx, k, strings.NewReader(k), int64(len(k))))
	}

	page, err := p.List(ctx, provider.ListOptions{Prefix: "in/", MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "in/b.mov", page.ContinuationToken)

	var keys []string
	require.NoError(t, provider.Walk(ctx, p, "in/", func(o provider.ObjectSummary) error {
		keys = append(keys, o.Key)
		return nil
	}))
	assert.Equal(t, []string{"in/a.mp4", "in/b.mov", "in/sub/c.mkv"}, keys)

	keys = nil
	require.NoError(t, provider.Walk(ctx, p, "in", func(o provider.ObjectSummary) error {
		keys = append(keys, o.Key)
		return nil
	}))
	assert.Contains(t, keys, "inbox/d.mp4", "prefixes match partial names")

	stop := errors.New("stop")
	err = provider.Walk(ctx, p, "", func(provider.ObjectSummary) error { return stop })
	assert.ErrorIs(t, err, stop)

	empty, err := p.List(ctx, provider.ListOptions{Prefix: "nothing/"})
	require.NoError(t, err)
	assert.Empty(t, empty.Objects)
}

// flakyProvider fails Put a fixed number of times before delegating.
type flakyProvider struct {
	provider.Provider
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.Provider.Put(ctx, key, body, size)
}

func TestPublish(t *testing.T) {
	base, dir := newFileProvider(t)
	ctx := context.Background()

	artifact := filepath.Join(t.TempDir(), "clip_nobg.mov")
	require.NoError(t, os.WriteFile(artifact, []byte("moov"), 0o644))

	t.Run("retries throttling", func(t *testing.T) {
		p := &flakyProvider{Provider: base, failures: 1, err: &provider.ProviderError{Err: provider.ErrThrottled}}
		uri, err := provider.Publish(ctx, p, artifact, "renders/clip_nobg.mov")
		require.NoError(t, err)
		assert.Equal(t, 2, p.calls)
		assert.Equal(t, base.URI("renders/clip_nobg.mov"), uri)
		assert.FileExists(t, filepath.Join(dir, "renders", "clip_nobg.mov"))
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		p := &flakyProvider{Provider: base, failures: 5, err: &provider.ProviderError{Err: provider.ErrAccessDenied}}
		_, err := provider.Publish(ctx, p, artifact, "renders/x.mov")
		assert.True(t, provider.IsAccessDenied(err))
		assert.Equal(t, 1, p.calls)
	})

	t.Run("missing artifact", func(t *testing.T) {
		_, err := provider.Publish(ctx, base, filepath.Join(t.TempDir(), "none.mov"), "renders/none.mov")
		assert.Error(t, err)
	})
}

func TestFetch(t *testing.T) {
	p, _ := newFileProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "in/clip.mp4", bytes.NewReader([]byte("video")), 5))

	dest := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	n, err := provider.Fetch(ctx, p, "in/clip.mp4", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	missing := filepath.Join(t.TempDir(), "missing.mp4")
	_, err = provider.Fetch(ctx, p, "in/missing.mp4", missing)
	assert.True(t, provider.IsNotFound(err))
	assert.NoFileExists(t, missing)
}
