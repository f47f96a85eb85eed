package rimage

import (
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
)

// Debug renderings of intermediate buffers. NaN samples are drawn black.

// NormalMapImage maps each unit normal component from [-1, 1] to [0, 255].
func NormalMapImage(nmap pyramid.Float3) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, nmap.Width, nmap.Height))
	for i := range nmap.X {
		n := vec3At(nmap, i)
		if n.isNaN() {
			img.Pix[4*i+3] = 255
			continue
		}
		img.Pix[4*i] = unitToByte((n.x + 1) / 2)
		img.Pix[4*i+1] = unitToByte((n.y + 1) / 2)
		img.Pix[4*i+2] = unitToByte((n.z + 1) / 2)
		img.Pix[4*i+3] = 255
	}
	return img
}

// RGBMapImage renders an RGB level scaled to [0, 1].
func RGBMapImage(rgb pyramid.Float3) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, rgb.Width, rgb.Height))
	for i := range rgb.X {
		img.Pix[4*i] = unitToByte(rgb.X[i])
		img.Pix[4*i+1] = unitToByte(rgb.Y[i])
		img.Pix[4*i+2] = unitToByte(rgb.Z[i])
		img.Pix[4*i+3] = 255
	}
	return img
}

// DepthMapImage renders the z channel of a vertex map as gray, near is bright.
func DepthMapImage(vmap pyramid.Float3, maxDepth float32) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, vmap.Width, vmap.Height))
	for i, z := range vmap.Z {
		if math32.IsNaN(z) || maxDepth <= 0 {
			continue
		}
		img.Pix[i] = unitToByte(1 - z/maxDepth)
	}
	return img
}

// LabelImage renders a per pixel label map with a fixed palette. Negative labels are black.
func LabelImage(labels []int32, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, l := range labels[:width*height] {
		c := color.NRGBA{A: 255}
		if l >= 0 {
			c = LabelColor(int(l))
		}
		img.SetNRGBA(i%width, i/width, c)
	}
	return img
}

// LabelColor returns a stable, well separated color for label l.
func LabelColor(l int) color.NRGBA {
	// golden angle hue walk
	c := colorful.Hsv(math.Mod(float64(l)*137.50776, 360), 0.8, 0.95)
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{r, g, b, 255}
}

// Upscale enlarges img by an integer factor without interpolation, for viewing
// coarse pyramid levels next to level 0.
func Upscale(img image.Image, factor int) *image.NRGBA {
	if factor <= 1 {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	return imaging.Resize(img, b.Dx()*factor, b.Dy()*factor, imaging.NearestNeighbor)
}

// encoders handle the formats imaging cannot write.
var encoders = map[string]func(w io.Writer, img image.Image) error{
	".ppm": ppm.Encode,
	".qoi": qoi.Encode,
}

// SaveImage writes img to path, the format following the file extension. Besides
// the formats of imaging, .ppm writes a binary portable pixmap and .qoi a QOI image.
func SaveImage(img image.Image, path string) (err error) {
	encode, ok := encoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		if err := imaging.Save(img, path); err != nil {
			return errors.Wrapf(err, "saving %q", path)
		}
		return nil
	}
	//nolint:gosec
	f, createErr := os.Create(path)
	if createErr != nil {
		return errors.Wrapf(createErr, "saving %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(encode(f, img), "saving %q", path)
}

func unitToByte(v float32) uint8 {
	if math32.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
