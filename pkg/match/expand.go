package match

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/clipqueue/pkg/provider"
)

// Candidate is one input selected by a pattern.
type Candidate struct {
	// Location is a local path or an s3:// URI.
	Location string

	// Name is the display name (base name of the path or key).
	Name string

	Object provider.ObjectSummary
}

// Expander turns input patterns into candidates.
type Expander struct {
	// Excludes drop candidates whose path or key matches.
	Excludes []string

	// Extensions restricts candidates to allowed containers. Nil allows all.
	Extensions *ExtensionMatcher

	// Filter applies size/date/name criteria. Nil passes everything.
	Filter *CompositeFilter

	IncludeHidden bool
}

// Local expands a filesystem glob. Results are sorted by path.
func (e Expander) Local(ctx context.Context, pattern string) ([]Candidate, error) {
	pattern = NormalizePattern(pattern)
	m, err := e.matcher("**")
	if err != nil {
		return nil, err
	}

	paths, err := doublestar.FilepathGlob(filepath.FromSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: ErrInvalidPattern}
	}
	sort.Strings(paths)

	var out []Candidate
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := filepath.ToSlash(p)
		if !m.Match(relKey(pattern, key)) {
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		obj := provider.ObjectSummary{Key: key, Size: st.Size(), LastModified: st.ModTime()}
		if c, ok := e.accept(p, obj); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Remote expands a key pattern against an object store. The store is listed
// from the pattern's static prefix; a pattern without metacharacters is a
// single Head.
func (e Expander) Remote(ctx context.Context, p provider.Provider, keyPattern string) ([]Candidate, error) {
	keyPattern = NormalizePattern(keyPattern)

	if !IsGlobPattern(keyPattern) {
		meta, err := p.Head(ctx, DerivePrefix(keyPattern))
		if err != nil {
			return nil, err
		}
		if c, ok := e.accept(p.URI(meta.Key), meta.ObjectSummary); ok {
			return []Candidate{c}, nil
		}
		return nil, nil
	}

	m, err := e.matcher(keyPattern)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	err = provider.Walk(ctx, p, DerivePrefix(keyPattern), func(obj provider.ObjectSummary) error {
		if !m.Match(obj.Key) {
			return nil
		}
		if c, ok := e.accept(p.URI(obj.Key), obj); ok {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// relKey strips the pattern's static directory so hidden-segment checks and
// excludes only see the part the pattern selected.
func relKey(pattern, key string) string {
	if !IsGlobPattern(pattern) {
		return path.Base(key)
	}
	prefix := path.Clean(DerivePrefix(pattern))
	if prefix == "." || !strings.HasPrefix(key, prefix) {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

func (e Expander) matcher(include string) (*Matcher, error) {
	return New(Config{
		Includes:      []string{include},
		Excludes:      e.Excludes,
		IncludeHidden: e.IncludeHidden,
	})
}

func (e Expander) accept(location string, obj provider.ObjectSummary) (Candidate, bool) {
	name := path.Base(obj.Key)
	if e.Extensions != nil && !e.Extensions.Allowed(name) {
		return Candidate{}, false
	}
	if !e.Filter.Match(&obj) {
		return Candidate{}, false
	}
	return Candidate{Location: location, Name: name, Object: obj}, true
}
