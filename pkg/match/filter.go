package match

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/clipqueue/pkg/provider"
)

// Filter evaluates whether a candidate input passes metadata criteria.
// Candidates are described by provider.ObjectSummary whether they come from
// a local directory or an object store listing.
type Filter interface {
	Match(obj *provider.ObjectSummary) bool
	String() string
}

// FilterConfig holds filter criteria from a batch manifest or CLI flags.
type FilterConfig struct {
	Size     *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// NameRegex is applied to the key after glob matching.
	NameRegex string `json:"name_regex,omitempty" yaml:"name_regex,omitempty"`
}

// SizeFilterConfig specifies inclusive size bounds such as "1KB" or "2GiB".
type SizeFilterConfig struct {
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies a modification window. After is inclusive,
// Before is exclusive. Both accept "2024-01-15" or RFC 3339.
type DateFilterConfig struct {
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// Filter errors.
var (
	ErrInvalidSize  = errors.New("invalid size value")
	ErrInvalidDate  = errors.New("invalid date value")
	ErrInvalidRegex = errors.New("invalid regex pattern")
)

// SizeFilter filters by size range. A negative bound is unset.
type SizeFilter struct {
	min int64
	max int64
}

// NewSizeFilter creates a size filter. It returns nil when cfg is nil.
func NewSizeFilter(cfg *SizeFilterConfig) (*SizeFilter, error) {
	if cfg == nil {
		return nil, nil
	}
	f := &SizeFilter{min: -1, max: -1}
	if cfg.Min != "" {
		n, err := ParseSize(cfg.Min)
		if err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
		f.min = n
	}
	if cfg.Max != "" {
		n, err := ParseSize(cfg.Max)
		if err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
		f.max = n
	}
	if f.min >= 0 && f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}
	return f, nil
}

// Match implements Filter.
func (f *SizeFilter) Match(obj *provider.ObjectSummary) bool {
	if f.min >= 0 && obj.Size < f.min {
		return false
	}
	return f.max < 0 || obj.Size <= f.max
}

func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", FormatSize(f.min), FormatSize(f.max))
	case f.min >= 0:
		return fmt.Sprintf("size: >= %s", FormatSize(f.min))
	case f.max >= 0:
		return fmt.Sprintf("size: <= %s", FormatSize(f.max))
	}
	return "size: any"
}

// DateFilter filters by modification time.
type DateFilter struct {
	after  time.Time
	before time.Time
}

// NewDateFilter creates a date filter. It returns nil when cfg is nil.
func NewDateFilter(cfg *DateFilterConfig) (*DateFilter, error) {
	if cfg == nil {
		return nil, nil
	}
	f := &DateFilter{}
	if cfg.After != "" {
		t, err := ParseDate(cfg.After)
		if err != nil {
			return nil, fmt.Errorf("after: %w", err)
		}
		f.after = t
	}
	if cfg.Before != "" {
		t, err := ParseDate(cfg.Before)
		if err != nil {
			return nil, fmt.Errorf("before: %w", err)
		}
		f.before = t
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after must precede before", ErrInvalidDate)
	}
	return f, nil
}

// Match implements Filter.
func (f *DateFilter) Match(obj *provider.ObjectSummary) bool {
	if !f.after.IsZero() && obj.LastModified.Before(f.after) {
		return false
	}
	return f.before.IsZero() || obj.LastModified.Before(f.before)
}

func (f *DateFilter) String() string {
	return fmt.Sprintf("modified: [%s, %s)", formatBound(f.after), formatBound(f.before))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.Format(time.RFC3339)
}

// RegexFilter filters keys by regular expression.
type RegexFilter struct {
	re *regexp.Regexp
}

// NewRegexFilter compiles pattern.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &RegexFilter{re: re}, nil
}

// Match implements Filter.
func (f *RegexFilter) Match(obj *provider.ObjectSummary) bool {
	return f.re.MatchString(obj.Key)
}

func (f *RegexFilter) String() string {
	return "name_regex: " + f.re.String()
}

// CompositeFilter passes objects that pass every filter.
type CompositeFilter struct {
	filters []Filter
}

// NewFilterFromConfig builds a composite filter. It returns nil when cfg
// sets no criteria.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}
	var filters []Filter
	size, err := NewSizeFilter(cfg.Size)
	if err != nil {
		return nil, err
	}
	if size != nil {
		filters = append(filters, size)
	}
	date, err := NewDateFilter(cfg.Modified)
	if err != nil {
		return nil, err
	}
	if date != nil {
		filters = append(filters, date)
	}
	if cfg.NameRegex != "" {
		rf, err := NewRegexFilter(cfg.NameRegex)
		if err != nil {
			return nil, err
		}
		filters = append(filters, rf)
	}
	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match implements Filter. A nil composite passes everything.
func (f *CompositeFilter) Match(obj *provider.ObjectSummary) bool {
	if f == nil {
		return true
	}
	for _, flt := range f.filters {
		if !flt.Match(obj) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	if f == nil {
		return "none"
	}
	parts := make([]string, len(f.filters))
	for i, flt := range f.filters {
		parts[i] = flt.String()
	}
	return strings.Join(parts, "; ")
}

// Size units. KB/MB/GB are base-10, KiB/MiB/GiB base-2.
const (
	Byte int64 = 1

	KB int64 = 1000
	MB int64 = 1000 * KB
	GB int64 = 1000 * MB
	TB int64 = 1000 * GB

	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// sizeUnits is keyed by the upper-cased suffix.
var sizeUnits = map[string]int64{
	"": Byte, "B": Byte,
	"K": KB, "KB": KB, "M": MB, "MB": MB, "G": GB, "GB": GB, "T": TB, "TB": TB,
	"KI": KiB, "KIB": KiB, "MI": MiB, "MIB": MiB, "GI": GiB, "GIB": GiB, "TI": TiB, "TIB": TiB,
}

// ParseSize parses "1024", "100MB", "1.5GiB" and similar, case-insensitively.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	digits := s
	if i := strings.IndexFunc(s, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		digits = s[:i]
	}
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	unit := strings.ToUpper(strings.TrimSpace(s[len(digits):]))
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSize, unit)
	}

	if !strings.Contains(digits, ".") {
		n, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
		}
		if n > uint64(math.MaxInt64/mult) {
			return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
		}
		return int64(n) * mult, nil
	}

	f, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	total := f * float64(mult)
	if total > math.MaxInt64 {
		return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
	}
	return int64(total), nil
}

// FormatSize formats bytes with the largest base-2 unit that fits.
func FormatSize(bytes int64) string {
	for _, u := range []struct {
		size int64
		name string
	}{{TiB, "TiB"}, {GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if bytes >= u.size {
			return fmt.Sprintf("%.1f%s", float64(bytes)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%dB", bytes)
}

// ParseDate parses "2024-01-15" (start of day UTC) or an RFC 3339 time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
