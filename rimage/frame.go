// Package rimage turns raw depth and color frames into the vertex, normal and
// color pyramids the segmentation stages consume.
package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// ErrFrameSize is returned when a frame does not match the expected resolution.
var ErrFrameSize = errors.New("frame size mismatch")

// ColorPixel is one packed 8-bit RGB sample.
type ColorPixel struct {
	R, G, B uint8
}

// DepthPixel is one depth sample in millimetres. Zero means no reading.
type DepthPixel uint16

// Meters converts the sample to metres.
func (d DepthPixel) Meters() float32 {
	return float32(d) / 1000
}

// Frame is a timestamped color and depth pair of the same resolution.
type Frame struct {
	Width, Height int
	Color         []ColorPixel
	Depth         []DepthPixel
	Timestamp     int64
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Color:  make([]ColorPixel, width*height),
		Depth:  make([]DepthPixel, width*height),
	}
}

// CheckSize verifies the frame holds exactly width*height samples of each kind.
func (f *Frame) CheckSize(width, height int) error {
	if f == nil {
		return errors.Wrap(ErrFrameSize, "nil frame")
	}
	if f.Width != width || f.Height != height {
		return errors.Wrapf(ErrFrameSize, "got (%d, %d) expected (%d, %d)", f.Width, f.Height, width, height)
	}
	n := width * height
	if len(f.Color) != n || len(f.Depth) != n {
		return errors.Wrapf(ErrFrameSize, "got %d color and %d depth samples, expected %d",
			len(f.Color), len(f.Depth), n)
	}
	return nil
}

// Bounds returns the rectangle of the frame, for image.Image style iteration.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// ColorAt returns the color sample at (x, y).
func (f *Frame) ColorAt(x, y int) color.NRGBA {
	c := f.Color[y*f.Width+x]
	return color.NRGBA{c.R, c.G, c.B, 255}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Width:     f.Width,
		Height:    f.Height,
		Color:     make([]ColorPixel, len(f.Color)),
		Depth:     make([]DepthPixel, len(f.Depth)),
		Timestamp: f.Timestamp,
	}
	copy(out.Color, f.Color)
	copy(out.Depth, f.Depth)
	return out
}

// ValidDepthCount returns the number of depth samples with a reading.
func (f *Frame) ValidDepthCount() int {
	n := 0
	for _, d := range f.Depth {
		if d != 0 {
			n++
		}
	}
	return n
}
