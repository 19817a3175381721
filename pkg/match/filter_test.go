package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/provider"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1024", want: 1024},
		{in: "1KB", want: 1000},
		{in: "1kib", want: 1024},
		{in: "100MB", want: 100 * MB},
		{in: "1.5GiB", want: GiB + GiB/2},
		{in: "2 G", want: 2 * GB},
		{in: "", wantErr: true},
		{in: "MB", wantErr: true},
		{in: "10XB", wantErr: true},
		{in: "99999999999TiB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.5KiB", FormatSize(1536))
	assert.Equal(t, "2.0GiB", FormatSize(2*GiB))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2024-01-15T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), d)

	_, err = ParseDate("15/01/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestNewFilterFromConfig(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }

	f, err := NewFilterFromConfig(&FilterConfig{
		Size:      &SizeFilterConfig{Min: "1KB", Max: "1MB"},
		Modified:  &DateFilterConfig{After: "2024-01-10", Before: "2024-01-20"},
		NameRegex: `take\d+`,
	})
	require.NoError(t, err)
	assert.Equal(t, "size: 1000B - 976.6KiB; modified: [2024-01-10T00:00:00Z, 2024-01-20T00:00:00Z); name_regex: take\\d+", f.String())

	tests := []struct {
		name string
		obj  provider.ObjectSummary
		want bool
	}{
		{"inside", provider.ObjectSummary{Key: "in/take1.mp4", Size: 5000, LastModified: day(15)}, true},
		{"too small", provider.ObjectSummary{Key: "in/take1.mp4", Size: 10, LastModified: day(15)}, false},
		{"too large", provider.ObjectSummary{Key: "in/take1.mp4", Size: 2 * MB, LastModified: day(15)}, false},
		{"too old", provider.ObjectSummary{Key: "in/take1.mp4", Size: 5000, LastModified: day(2)}, false},
		{"too new", provider.ObjectSummary{Key: "in/take1.mp4", Size: 5000, LastModified: day(25)}, false},
		{"name", provider.ObjectSummary{Key: "in/intro.mp4", Size: 5000, LastModified: day(15)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(&tt.obj))
		})
	}
}

func TestNewFilterFromConfigEdgeCases(t *testing.T) {
	f, err := NewFilterFromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(&provider.ObjectSummary{}), "nil filter passes everything")

	f, err = NewFilterFromConfig(&FilterConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewFilterFromConfig(&FilterConfig{Size: &SizeFilterConfig{Min: "2MB", Max: "1MB"}})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewFilterFromConfig(&FilterConfig{Modified: &DateFilterConfig{After: "2024-02-01", Before: "2024-01-01"}})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = NewFilterFromConfig(&FilterConfig{NameRegex: "("})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
