package segmentation

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ProjectionParams describe where a plane's texture lands once projected.
type ProjectionParams struct {
	// DestWidth and DestHeight are the used texture size in texels. A zero
	// DestWidth means the plane has not been projected.
	DestWidth, DestHeight int
	// TexelSize is the side of one texel in metres.
	TexelSize float64
	// AABBMeters is the plane local bounding box of the member pixels, X along the
	// bitangent and Y along the tangent.
	AABBMeters r2.Rect
}

// PlaneStats is one candidate plane. The running sums are accumulated from member
// pixels; Finalize derives the geometry from them.
type PlaneStats struct {
	Count     int
	PosSum    r3.Vector
	NormalSum r3.Vector
	// Moments holds the sums of xx, xy, xz, yy, yz, zz over member positions.
	Moments [6]float64

	Centroid  r3.Vector
	Normal    r3.Vector
	Tangent   r3.Vector
	Bitangent r3.Vector
	// Offset is dot(Normal, Centroid). Normals face the camera so it is negative
	// for anything in front of it.
	Offset float64

	Valid bool
	// MergedInto is the slot that absorbed this one, or -1.
	MergedInto int
	// Iteration is the segmentation round that produced the slot.
	Iteration int

	Proj ProjectionParams
}

// Reset clears the slot and tags it with an iteration.
func (s *PlaneStats) Reset(iteration int) {
	*s = PlaneStats{MergedInto: -1, Iteration: iteration}
}

// Distance is the signed distance of p from the plane, positive on the camera side.
func (s *PlaneStats) Distance(p r3.Vector) float64 {
	return s.Normal.Dot(p) - s.Offset
}

// Finalize computes the centroid and normal from the running sums. The normal is
// the direction of least variance of the member positions, turned to agree with
// the summed pixel normals (or to face the camera when there are none). The slot
// is valid when it holds at least minCount pixels.
func (s *PlaneStats) Finalize(minCount float64) {
	if s.Count == 0 {
		s.Valid = false
		return
	}
	n := float64(s.Count)
	c := s.PosSum.Mul(1 / n)
	s.Centroid = c

	m := s.Moments
	cov := mat.NewSymDense(3, []float64{
		m[0]/n - c.X*c.X, m[1]/n - c.X*c.Y, m[2]/n - c.X*c.Z,
		m[1]/n - c.X*c.Y, m[3]/n - c.Y*c.Y, m[4]/n - c.Y*c.Z,
		m[2]/n - c.X*c.Z, m[4]/n - c.Y*c.Z, m[5]/n - c.Z*c.Z,
	})
	normal := s.NormalSum.Normalize()
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); ok && s.Count >= 3 {
		var vecs mat.Dense
		eig.VectorsTo(&vecs)
		// eigenvalues come back in ascending order
		normal = r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
	}
	switch {
	case s.NormalSum.Norm2() > 0:
		if normal.Dot(s.NormalSum) < 0 {
			normal = normal.Mul(-1)
		}
	case normal.Dot(c) > 0:
		normal = normal.Mul(-1)
	}
	s.Normal = normal
	s.Offset = normal.Dot(c)
	s.Valid = n >= minCount && !math.IsNaN(s.Offset)
}

// absorb adds the sums of other into s.
func (s *PlaneStats) absorb(other *PlaneStats) {
	s.Count += other.Count
	s.PosSum = s.PosSum.Add(other.PosSum)
	s.NormalSum = s.NormalSum.Add(other.NormalSum)
	for i := range s.Moments {
		s.Moments[i] += other.Moments[i]
	}
}

func (s *PlaneStats) clearSums() {
	s.Count = 0
	s.PosSum = r3.Vector{}
	s.NormalSum = r3.Vector{}
	s.Moments = [6]float64{}
}

func (s *PlaneStats) accumulate(a *planeAccum) {
	s.Count += a.count
	s.PosSum = s.PosSum.Add(a.pos)
	s.NormalSum = s.NormalSum.Add(a.normal)
	for i := range s.Moments {
		s.Moments[i] += a.moments[i]
	}
}

// planeAccum is one block's partial sums for one slot.
type planeAccum struct {
	count   int
	pos     r3.Vector
	normal  r3.Vector
	moments [6]float64
}

func (a *planeAccum) add(p, n r3.Vector, hasNormal bool) {
	a.count++
	a.pos = a.pos.Add(p)
	if hasNormal {
		a.normal = a.normal.Add(n)
	}
	a.moments[0] += p.X * p.X
	a.moments[1] += p.X * p.Y
	a.moments[2] += p.X * p.Z
	a.moments[3] += p.Y * p.Y
	a.moments[4] += p.Y * p.Z
	a.moments[5] += p.Z * p.Z
}

// ResetPlaneStats clears every slot of the given round, or every slot when
// iteration is negative.
func ResetPlaneStats(stats []PlaneStats, iteration int) {
	if iteration < 0 {
		for i := range stats {
			stats[i].Reset(-1)
		}
		return
	}
	base := SlotIndex(iteration, 0, 0)
	for i := base; i < base+PlanesPerRound && i < len(stats); i++ {
		stats[i].Reset(iteration)
	}
}

// FinalizePlanes finalizes every slot of a round. minCount is the pixel floor at
// the resolution the slots were accumulated at.
func FinalizePlanes(stats []PlaneStats, iteration int, minCount float64) {
	base := SlotIndex(iteration, 0, 0)
	for i := base; i < base+PlanesPerRound; i++ {
		stats[i].Finalize(minCount)
	}
}

// RealignPeaks moves each normal peak of a round to the count weighted mean normal
// of the valid planes found along it. Peaks without valid planes keep their direction.
func RealignPeaks(stats []PlaneStats, peaks []NormalPeak, iteration int) {
	for k := range peaks {
		sum := r3.Vector{}
		for j := 0; j < MaxDistancePeaks; j++ {
			s := &stats[SlotIndex(iteration, k, j)]
			if !s.Valid {
				continue
			}
			sum = sum.Add(s.Normal.Mul(float64(s.Count)))
		}
		if sum.Norm2() > 0 {
			peaks[k].Direction = sum.Normalize()
		}
	}
}
