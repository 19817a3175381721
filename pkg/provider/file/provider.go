// Package file implements the provider interface on a local directory. It
// serves as the artifact mirror when publishing is pointed at a path.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/clipqueue/pkg/provider"
)

// DefaultMaxKeys is the default page size for List.
const DefaultMaxKeys = 1000

const stagingPrefix = ".clipqueue-"

// Provider stores objects as files under BaseDir. Keys are slash-separated
// paths relative to BaseDir.
type Provider struct {
	baseDir string
}

var _ provider.Provider = (*Provider)(nil)

// Config configures a file provider.
type Config struct {
	BaseDir string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

// New creates a provider rooted at cfg.BaseDir. The directory is created on
// first Put.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := filepath.Abs(filepath.Clean(cfg.BaseDir))
	if err != nil {
		return nil, err
	}
	return &Provider{baseDir: base}, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }

// URI implements provider.Provider.
func (p *Provider) URI(key string) string {
	full, err := p.fullPath(key)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(full)
}

// List implements provider.Provider. Keys are returned in lexical order and
// the continuation token is the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	limit := opts.MaxKeys
	if limit <= 0 {
		limit = DefaultMaxKeys
	}

	objs, err := p.walk(ctx, strings.TrimPrefix(opts.Prefix, "/"))
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	if tok := opts.ContinuationToken; tok != "" {
		objs = objs[sort.Search(len(objs), func(i int) bool { return objs[i].Key > tok }):]
	}

	res := &provider.ListResult{Objects: objs}
	if len(objs) > limit {
		res.Objects = objs[:limit]
		res.IsTruncated = true
		res.ContinuationToken = objs[limit-1].Key
	}
	return res, nil
}

// Head implements provider.Provider.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_, st, err := p.regularFile("Head", key)
	if err != nil {
		return nil, err
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}, nil
}

// Get implements provider.Provider.
func (p *Provider) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	full, _, err := p.regularFile("Get", key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("Get", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("Get", key, err)
	}
	return f, st.Size(), nil
}

// regularFile resolves key and rejects directories as missing objects.
func (p *Provider) regularFile(op, key string) (string, fs.FileInfo, error) {
	full, err := p.fullPath(key)
	if err != nil {
		return "", nil, p.wrapError(op, key, err)
	}
	st, err := os.Stat(full)
	if err == nil && st.IsDir() {
		err = fs.ErrNotExist
	}
	if err != nil {
		return "", nil, p.wrapError(op, key, err)
	}
	return full, st, nil
}

// Put implements provider.Provider. The object appears atomically.
func (p *Provider) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return p.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), stagingPrefix+"put-*")
	if err != nil {
		return p.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return p.wrapError("Put", key, err)
	}
	if size >= 0 && n != size {
		return p.wrapError("Put", key, fmt.Errorf("short write: %d of %d bytes", n, size))
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return p.wrapError("Put", key, err)
	}
	return nil
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Rooting the key before cleaning keeps ".." from leaving the base.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// walk returns the regular files whose keys start with prefix, sorted by
// key. Staging files left by Put are never listed.
func (p *Provider) walk(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	// Start at the deepest directory the prefix names so partial names
	// ("clips/a") still match.
	dir, _ := path.Split(prefix)
	root, err := p.fullPath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var objs []provider.ObjectSummary
	err = filepath.WalkDir(root, func(full string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil || d.IsDir() || strings.HasPrefix(d.Name(), stagingPrefix) {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, full)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		objs = append(objs, provider.ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
