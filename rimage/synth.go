package rimage

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
)

// SynthPlane is an infinite plane {p : dot(Normal, p) = Offset} with a flat color,
// used to render synthetic frames.
type SynthPlane struct {
	Normal r3.Vector
	Offset float64
	Color  ColorPixel
}

// SynthesizeFrame renders the planes as seen by a pinhole camera. Every pixel takes
// the nearest plane hit in front of the camera; rays that hit nothing, or hit beyond
// the range of a DepthPixel, get no depth.
func SynthesizeFrame(intrinsics *transform.PinholeCameraIntrinsics, planes []SynthPlane, timestamp int64) *Frame {
	f := NewFrame(intrinsics.Width, intrinsics.Height)
	f.Timestamp = timestamp
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			ray := intrinsics.Ray(float64(x), float64(y))
			best := math.Inf(1)
			var c ColorPixel
			for _, pl := range planes {
				denom := pl.Normal.Dot(ray)
				if denom == 0 {
					continue
				}
				z := pl.Offset / denom
				if z > 0 && z < best {
					best, c = z, pl.Color
				}
			}
			mm := math.Round(best * 1000)
			if math.IsInf(best, 1) || mm > math.MaxUint16 {
				continue
			}
			i := y*f.Width + x
			f.Depth[i] = DepthPixel(mm)
			f.Color[i] = c
		}
	}
	return f
}
