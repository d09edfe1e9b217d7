package camera

// BrownConrady is the radial/tangential lens model in normalized image
// coordinates.
type BrownConrady struct {
	K1, K2, K3 float64
	P1, P2     float64
}

// Distort maps an ideal normalized point to where the lens images it.
//
//	xd = x(1 + k1 r² + k2 r⁴ + k3 r⁶) + 2 p1 x y + p2 (r² + 2x²)
//	yd = y(1 + k1 r² + k2 r⁴ + k3 r⁶) + p1 (r² + 2y²) + 2 p2 x y
func (bc BrownConrady) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + r2*(bc.K1+r2*(bc.K2+r2*bc.K3))
	xd := x*radial + 2*bc.P1*x*y + bc.P2*(r2+2*x*x)
	yd := y*radial + bc.P1*(r2+2*y*y) + 2*bc.P2*x*y
	return xd, yd
}

// Undistort inverts Distort with Newton-Raphson iterations.
func (bc BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	const (
		maxIterations = 20
		tolerance     = 1e-12
	)
	x, y := xd, yd
	for range maxIterations {
		ex, ey := bc.Distort(x, y)
		ex -= xd
		ey -= yd
		if ex*ex+ey*ey < tolerance*tolerance {
			break
		}

		r2 := x*x + y*y
		radial := 1 + r2*(bc.K1+r2*(bc.K2+r2*bc.K3))
		dRadial := 2 * (bc.K1 + 2*bc.K2*r2 + 3*bc.K3*r2*r2)

		j00 := radial + x*x*dRadial + 2*bc.P1*y + 6*bc.P2*x
		j01 := x*y*dRadial + 2*bc.P1*x + 2*bc.P2*y
		j10 := x*y*dRadial + 2*bc.P1*x + 2*bc.P2*y
		j11 := radial + y*y*dRadial + 6*bc.P1*y + 2*bc.P2*x

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		x -= (j11*ex - j01*ey) / det
		y -= (-j10*ex + j00*ey) / det
	}
	return x, y
}
