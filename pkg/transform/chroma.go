package transform

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/3leaps/clipqueue/pkg/frame"
)

// ChromaConfig configures the chroma keyer.
type ChromaConfig struct {
	// KeyColor is the backdrop color as "#rrggbb".
	KeyColor string

	// Tolerance is the RGB distance under which a pixel is fully transparent.
	Tolerance float64

	// Softness is the width of the linear ramp from transparent to opaque.
	Softness float64
}

// DefaultChromaConfig keys out broadcast green.
func DefaultChromaConfig() ChromaConfig {
	return ChromaConfig{KeyColor: "#00b140", Tolerance: 80, Softness: 40}
}

// ChromaKey derives alpha from each pixel's distance to a key color.
type ChromaKey struct {
	key       [3]float64
	tolerance float64
	softness  float64
}

// NewChromaKey validates cfg and builds the keyer.
func NewChromaKey(cfg ChromaConfig) (*ChromaKey, error) {
	if cfg.KeyColor == "" {
		cfg.KeyColor = DefaultChromaConfig().KeyColor
	}
	key, err := ParseHexColor(cfg.KeyColor)
	if err != nil {
		return nil, err
	}
	if cfg.Tolerance < 0 || cfg.Softness < 0 {
		return nil, fmt.Errorf("chroma tolerance and softness must be non-negative")
	}
	return &ChromaKey{
		key:       [3]float64{float64(key[0]), float64(key[1]), float64(key[2])},
		tolerance: cfg.Tolerance,
		softness:  cfg.Softness,
	}, nil
}

// Apply implements Transform.
func (c *ChromaKey) Apply(ctx context.Context, in *frame.Buffer) (*frame.Buffer, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels := in.Width * in.Height
	alpha := make([]byte, pixels)
	for i := 0; i < pixels; i++ {
		p := in.Data[i*3 : i*3+3]
		alpha[i] = c.alpha(p[0], p[1], p[2])
	}
	return in.WithAlpha(alpha)
}

func (c *ChromaKey) alpha(r, g, b byte) byte {
	dr := float64(r) - c.key[0]
	dg := float64(g) - c.key[1]
	db := float64(b) - c.key[2]
	d := math.Sqrt(dr*dr + dg*dg + db*db)

	switch {
	case d <= c.tolerance:
		return 0
	case c.softness == 0 || d >= c.tolerance+c.softness:
		return 255
	default:
		return byte(math.Round((d - c.tolerance) / c.softness * 255))
	}
}

// Close implements Transform.
func (c *ChromaKey) Close() error { return nil }

// ParseHexColor parses "#rrggbb" or "rrggbb".
func ParseHexColor(s string) ([3]byte, error) {
	var out [3]byte
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return out, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return out, fmt.Errorf("invalid color %q: %w", s, err)
	}
	out[0] = byte(v >> 16)
	out[1] = byte(v >> 8)
	out[2] = byte(v)
	return out, nil
}
