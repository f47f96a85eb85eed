// Package pyramid implements structure-of-arrays image buffers with multiple
// resolution levels. Every buffer class owns one backing slice; levels and
// channels are offset views into it.
package pyramid

import (
	"math"

	"github.com/pkg/errors"
)

// NumLevels is the number of resolution levels in every pyramid.
const NumLevels = 3

// ErrInvalidDimensions is returned when a resolution cannot hold NumLevels levels.
var ErrInvalidDimensions = errors.New("invalid pyramid dimensions")

// CheckDimensions verifies that width and height are positive and divisible by
// 2^(NumLevels-1) so that level l has exactly (width*height) >> 2l pixels.
func CheckDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidDimensions, "size (%d, %d) must be positive", width, height)
	}
	div := 1 << (NumLevels - 1)
	if width%div != 0 || height%div != 0 {
		return errors.Wrapf(ErrInvalidDimensions, "size (%d, %d) must be divisible by %d", width, height, div)
	}
	return nil
}

// LevelSize returns the width and height of a pyramid level.
func LevelSize(width, height, level int) (int, int) {
	return width >> level, height >> level
}

// totalCount is the number of elements one channel needs for all levels.
func totalCount(pixCount int) int {
	count := 0
	for i := 0; i < NumLevels; i++ {
		count += pixCount >> (i * 2)
	}
	return count
}

// levelViews slices one channel into per-level views starting at base.
func levelViews(data []float32, pixCount int) [NumLevels][]float32 {
	var views [NumLevels][]float32
	offset := 0
	for i := 0; i < NumLevels; i++ {
		n := pixCount >> (i * 2)
		views[i] = data[offset : offset+n : offset+n]
		offset += n
	}
	return views
}

// Float1 is a single channel view of one level.
type Float1 struct {
	Width, Height int
	X             []float32
}

// Float3 is a three channel view of one level.
type Float3 struct {
	Width, Height int
	X, Y, Z       []float32
}

// At returns the three channels at index i.
func (f Float3) At(i int) (float32, float32, float32) {
	return f.X[i], f.Y[i], f.Z[i]
}

// Set writes the three channels at index i.
func (f Float3) Set(i int, x, y, z float32) {
	f.X[i], f.Y[i], f.Z[i] = x, y, z
}

// Invalidate writes NaN to all channels at index i.
func (f Float3) Invalidate(i int) {
	nan := float32(math.NaN())
	f.X[i], f.Y[i], f.Z[i] = nan, nan, nan
}

// Float1Pyramid is a single channel image pyramid in one allocation.
type Float1Pyramid struct {
	width, height int
	data          []float32
	x             [NumLevels][]float32
}

// NewFloat1Pyramid allocates a single channel pyramid.
func NewFloat1Pyramid(width, height int) (*Float1Pyramid, error) {
	if err := CheckDimensions(width, height); err != nil {
		return nil, err
	}
	pixCount := width * height
	p := &Float1Pyramid{width: width, height: height, data: make([]float32, totalCount(pixCount))}
	p.x = levelViews(p.data, pixCount)
	return p, nil
}

// Level returns the view of level l.
func (p *Float1Pyramid) Level(l int) Float1 {
	w, h := LevelSize(p.width, p.height, l)
	return Float1{Width: w, Height: h, X: p.x[l]}
}

// Data returns the backing allocation.
func (p *Float1Pyramid) Data() []float32 {
	return p.data
}

// Float3Pyramid is a three channel image pyramid. All x levels come first, then
// all y levels, then all z levels, in one allocation.
type Float3Pyramid struct {
	width, height int
	data          []float32
	x, y, z       [NumLevels][]float32
}

// NewFloat3Pyramid allocates a three channel pyramid.
func NewFloat3Pyramid(width, height int) (*Float3Pyramid, error) {
	if err := CheckDimensions(width, height); err != nil {
		return nil, err
	}
	pixCount := width * height
	count := totalCount(pixCount)
	p := &Float3Pyramid{width: width, height: height, data: make([]float32, 3*count)}
	p.x = levelViews(p.data[:count], pixCount)
	p.y = levelViews(p.data[count:2*count], pixCount)
	p.z = levelViews(p.data[2*count:], pixCount)
	return p, nil
}

// Level returns the view of level l.
func (p *Float3Pyramid) Level(l int) Float3 {
	w, h := LevelSize(p.width, p.height, l)
	return Float3{Width: w, Height: h, X: p.x[l], Y: p.y[l], Z: p.z[l]}
}

// Width is the level 0 width.
func (p *Float3Pyramid) Width() int {
	return p.width
}

// Height is the level 0 height.
func (p *Float3Pyramid) Height() int {
	return p.height
}

// Data returns the backing allocation.
func (p *Float3Pyramid) Data() []float32 {
	return p.data
}

// Float3SOA is a fixed length three channel array in one allocation.
type Float3SOA struct {
	data    []float32
	X, Y, Z []float32
}

// NewFloat3SOA allocates a three channel array of the given length.
func NewFloat3SOA(length int) *Float3SOA {
	data := make([]float32, 3*length)
	return &Float3SOA{
		data: data,
		X:    data[:length:length],
		Y:    data[length : 2*length : 2*length],
		Z:    data[2*length:],
	}
}

// Len is the number of elements.
func (s *Float3SOA) Len() int {
	return len(s.X)
}

// Float4SOA is a fixed length four channel array in one allocation.
type Float4SOA struct {
	data       []float32
	X, Y, Z, W []float32
}

// NewFloat4SOA allocates a four channel array of the given length.
func NewFloat4SOA(length int) *Float4SOA {
	data := make([]float32, 4*length)
	return &Float4SOA{
		data: data,
		X:    data[:length:length],
		Y:    data[length : 2*length : 2*length],
		Z:    data[2*length : 3*length : 3*length],
		W:    data[3*length:],
	}
}

// Len is the number of elements.
func (s *Float4SOA) Len() int {
	return len(s.X)
}

// Fill writes the same value to every channel of the first n elements.
func (s *Float4SOA) Fill(n int, x, y, z, w float32) {
	for i := 0; i < n; i++ {
		s.X[i], s.Y[i], s.Z[i], s.W[i] = x, y, z, w
	}
}
