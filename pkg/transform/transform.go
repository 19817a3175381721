// Package transform maps decoded RGB frames to RGBA frames with a
// foreground alpha channel.
package transform

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/frame"
)

// Transform maps one RGB frame to one RGBA frame of the same geometry.
//
// Implementations may hold expensive shared state (a loaded model); it is
// read-only after construction or guarded internally.
type Transform interface {
	Apply(ctx context.Context, in *frame.Buffer) (*frame.Buffer, error)
	Close() error
}

// Kind selects a Transform implementation.
type Kind string

const (
	KindChroma Kind = "chroma"
	KindMatte  Kind = "matte"
)

// Config selects and configures the background-removal transform.
type Config struct {
	Kind   Kind
	Chroma ChromaConfig
	Matte  MatteConfig
}

// DefaultConfig returns the in-process chroma keyer with broadcast green.
func DefaultConfig() Config {
	return Config{
		Kind:   KindChroma,
		Chroma: DefaultChromaConfig(),
	}
}

// New builds the configured transform.
func New(cfg Config, logger *zap.Logger) (Transform, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindChroma, "":
		return NewChromaKey(cfg.Chroma)
	case KindMatte:
		return NewExternalMatte(cfg.Matte, logger)
	default:
		return nil, fmt.Errorf("unknown transform %q", cfg.Kind)
	}
}

func checkInput(in *frame.Buffer) error {
	if in == nil {
		return fmt.Errorf("nil frame")
	}
	if in.Order != frame.RGB {
		return fmt.Errorf("frame %d: transform needs rgb24, have %s", in.Seq, in.Order)
	}
	return in.Validate()
}
