// Package frame holds one decoded video frame with an explicit channel order.
package frame

import (
	"fmt"
)

// Order is the in-memory channel layout of a frame's pixels.
type Order int

const (
	// BGR is the decoder's native 3-channel layout.
	BGR Order = iota
	// RGB is the layout transforms consume.
	RGB
	// RGBA is the layout the encoder consumes.
	RGBA
)

// String returns the ffmpeg pix_fmt name of the order.
func (o Order) String() string {
	switch o {
	case BGR:
		return "bgr24"
	case RGB:
		return "rgb24"
	case RGBA:
		return "rgba"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// BytesPerPixel returns the channel count of the order.
func (o Order) BytesPerPixel() int {
	if o == RGBA {
		return 4
	}
	return 3
}

// Buffer is one frame of pixels. Data is row-major, tightly packed, with
// Width*Height*Order.BytesPerPixel() bytes.
type Buffer struct {
	Data   []byte
	Width  int
	Height int
	Order  Order
	Seq    int64
}

// New allocates a zeroed buffer.
func New(width, height int, order Order, seq int64) *Buffer {
	return &Buffer{
		Data:   make([]byte, Size(width, height, order)),
		Width:  width,
		Height: height,
		Order:  order,
		Seq:    seq,
	}
}

// Size returns the packed byte size of a width x height frame in order.
func Size(width, height int, order Order) int {
	return width * height * order.BytesPerPixel()
}

// Validate checks that Data matches the declared geometry.
func (b *Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("frame %d: invalid dimensions %dx%d", b.Seq, b.Width, b.Height)
	}
	if want := Size(b.Width, b.Height, b.Order); len(b.Data) != want {
		return fmt.Errorf("frame %d: %s data is %d bytes, want %d", b.Seq, b.Order, len(b.Data), want)
	}
	return nil
}

// ToRGB converts a BGR frame to RGB in place. RGB frames are returned as is.
func (b *Buffer) ToRGB() error {
	switch b.Order {
	case RGB:
		return nil
	case BGR:
	default:
		return fmt.Errorf("frame %d: cannot convert %s to rgb24", b.Seq, b.Order)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	swapRB(b.Data, 3)
	b.Order = RGB
	return nil
}

// Pack returns the exact Width*Height*4 byte slice the encoder expects.
func (b *Buffer) Pack() ([]byte, error) {
	if b.Order != RGBA {
		return nil, fmt.Errorf("frame %d: encoder needs rgba, have %s", b.Seq, b.Order)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b.Data, nil
}

// WithAlpha builds an RGBA frame from an RGB frame and a per-pixel alpha mask
// of Width*Height bytes.
func (b *Buffer) WithAlpha(alpha []byte) (*Buffer, error) {
	if b.Order != RGB {
		return nil, fmt.Errorf("frame %d: alpha merge needs rgb24, have %s", b.Seq, b.Order)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	pixels := b.Width * b.Height
	if len(alpha) != pixels {
		return nil, fmt.Errorf("frame %d: alpha mask is %d bytes, want %d", b.Seq, len(alpha), pixels)
	}

	out := New(b.Width, b.Height, RGBA, b.Seq)
	for i := 0; i < pixels; i++ {
		copy(out.Data[i*4:i*4+3], b.Data[i*3:i*3+3])
		out.Data[i*4+3] = alpha[i]
	}
	return out, nil
}

func swapRB(data []byte, stride int) {
	for i := 0; i+2 < len(data); i += stride {
		data[i], data[i+2] = data[i+2], data[i]
	}
}
