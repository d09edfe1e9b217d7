package motion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Similarity is a 2D rotation, uniform scale and translation
//
//	| A  -B  TX |
//	| B   A  TY |
//
// mapping source points onto destination points.
type Similarity struct {
	A, B   float64
	TX, TY float64
	// Inliers is the consensus size the model was selected with.
	Inliers int
	Valid   bool
}

// Invalid is returned when no model could be estimated.
var Invalid = Similarity{}

// Identity is the no-motion model.
var Identity = Similarity{A: 1, Valid: true}

// Apply maps p through the transform.
func (s Similarity) Apply(p Point) Point {
	return Point{
		X: s.A*p.X - s.B*p.Y + s.TX,
		Y: s.B*p.X + s.A*p.Y + s.TY,
	}
}

// Rotation returns atan2(m01, m00), the angle reported in flow telemetry.
func (s Similarity) Rotation() float64 { return math.Atan2(-s.B, s.A) }

// Scale returns the uniform scale factor.
func (s Similarity) Scale() float64 { return math.Hypot(s.A, s.B) }

// residual2 is the squared transfer error of one pair.
func (s Similarity) residual2(src, dst Point) float64 {
	dx := s.A*src.X - s.B*src.Y + s.TX - dst.X
	dy := s.B*src.X + s.A*src.Y + s.TY - dst.Y
	return dx*dx + dy*dy
}

// FitSimilarity solves the least-squares similarity mapping src onto dst
// through the 4x4 normal equations in (a, b, tx, ty). The symmetric system
// is solved by eigendecomposition; near-zero eigenvalues are dropped, which
// yields the minimum-norm solution for degenerate input. It reports false
// when fewer than two pairs are given or the system cannot be factorized.
func FitSimilarity(src, dst []Point) (Similarity, bool) {
	n := len(src)
	if n < 2 || n != len(dst) {
		return Invalid, false
	}

	var sxy, sx, sy float64
	var b [4]float64
	for k := 0; k < n; k++ {
		a, d := src[k], dst[k]
		sxy += a.X*a.X + a.Y*a.Y
		sx += a.X
		sy += a.Y
		b[0] += a.X*d.X + a.Y*d.Y
		b[1] += a.X*d.Y - a.Y*d.X
		b[2] += d.X
		b[3] += d.Y
	}
	cnt := float64(n)

	sa := mat.NewSymDense(4, []float64{
		sxy, 0, sx, sy,
		0, sxy, -sy, sx,
		sx, -sy, cnt, 0,
		sy, sx, 0, cnt,
	})
	sb := mat.NewVecDense(4, b[:])

	var es mat.EigenSym
	if !es.Factorize(sa, true) {
		return Invalid, false
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	var maxAbs float64
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if maxAbs == 0 {
		return Invalid, false
	}
	tol := maxAbs * 1e-12

	x := mat.NewVecDense(4, nil)
	for k, lambda := range vals {
		if math.Abs(lambda) <= tol {
			continue
		}
		vk := vecs.ColView(k)
		x.AddScaledVec(x, mat.Dot(vk, sb)/lambda, vk)
	}

	return Similarity{
		A:     x.AtVec(0),
		B:     x.AtVec(1),
		TX:    x.AtVec(2),
		TY:    x.AtVec(3),
		Valid: true,
	}, true
}
