package match

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExtensions are the video containers accepted for processing.
var DefaultExtensions = []string{"mp4", "avi", "mov", "mkv", "webm"}

// Matcher evaluates include and exclude patterns against slash-separated
// paths or object keys. A path matches when it matches at least one include
// and no exclude. Safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
	foldCase      bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a path must match (at least one).
	Includes []string

	// Excludes are glob patterns a path must not match.
	Excludes []string

	// IncludeHidden matches paths with dot-prefixed segments.
	IncludeHidden bool

	// FoldCase lowercases paths and patterns before matching.
	FoldCase bool
}

// Errors returned by Matcher construction.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrNoExtensions is returned when an extension allow-list is empty.
	ErrNoExtensions = errors.New("at least one extension is required")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from cfg.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	includes, err := compile(cfg.Includes, cfg.FoldCase)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes, cfg.FoldCase)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
		foldCase:      cfg.FoldCase,
	}, nil
}

func compile(raw []string, fold bool) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := NormalizePattern(p)
		if fold {
			normalized = strings.ToLower(normalized)
		}
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether key passes the include/exclude patterns.
func (m *Matcher) Match(key string) bool {
	if !m.includeHidden && IsHidden(key) {
		return false
	}
	if m.foldCase {
		key = strings.ToLower(key)
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, key) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, exc := range m.excludes {
		if matchPattern(exc, key) {
			return false
		}
	}
	return true
}

// Prefixes returns the static listing prefix of each include pattern.
func (m *Matcher) Prefixes() []string {
	seen := make(map[string]bool, len(m.includes))
	var out []string
	for _, inc := range m.includes {
		p := DerivePrefix(inc)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

func matchPattern(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}

// ExtensionPattern builds the "*.{a,b}" pattern for an extension list.
// Leading dots and case are ignored.
func ExtensionPattern(exts []string) (string, error) {
	clean := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" {
			continue
		}
		if strings.ContainsAny(e, `/*?[]{},\`) {
			return "", &PatternError{Pattern: e, Err: ErrInvalidPattern}
		}
		clean = append(clean, e)
	}
	switch len(clean) {
	case 0:
		return "", ErrNoExtensions
	case 1:
		return "*." + clean[0], nil
	}
	return fmt.Sprintf("*.{%s}", strings.Join(clean, ",")), nil
}

// ExtensionMatcher accepts file names by extension, case-insensitively.
type ExtensionMatcher struct {
	m *Matcher
}

// NewExtensionMatcher creates an allow-list for exts.
func NewExtensionMatcher(exts []string) (*ExtensionMatcher, error) {
	pattern, err := ExtensionPattern(exts)
	if err != nil {
		return nil, err
	}
	m, err := New(Config{Includes: []string{pattern}, IncludeHidden: true, FoldCase: true})
	if err != nil {
		return nil, err
	}
	return &ExtensionMatcher{m: m}, nil
}

// Allowed reports whether the base name of name has an allowed extension.
func (e *ExtensionMatcher) Allowed(name string) bool {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || !strings.Contains(base, ".") {
		return false
	}
	return e.m.Match(base)
}

// Pattern returns the glob used for matching.
func (e *ExtensionMatcher) Pattern() string {
	return e.m.includes[0]
}
