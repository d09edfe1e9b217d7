package camera

import (
	"fmt"
	"math"
)

// Remap holds per-pixel lookup tables from undistorted (output) pixel
// positions to positions in the distorted camera image. Tables cover the
// closed range [0,Width]x[0,Height] so points lying exactly on the far
// frame edge have an entry.
type Remap struct {
	Width  int
	Height int
	MapX   []float32
	MapY   []float32
}

// BuildRemap precomputes the undistortion tables for cal. alpha selects the
// new camera matrix the same way OpenCV's getOptimalNewCameraMatrix does:
// 0 keeps only valid pixels, 1 keeps every source pixel in view.
func BuildRemap(cal *Calibration, alpha float64) (*Remap, error) {
	if err := cal.CheckValid(); err != nil {
		return nil, err
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0,1], got %g", alpha)
	}
	in := cal.Intrinsics()
	bc := cal.BrownConrady()
	nk := OptimalIntrinsics(in, bc, cal.Width, cal.Height, alpha)

	w, h := cal.Width, cal.Height
	r := &Remap{
		Width:  w,
		Height: h,
		MapX:   make([]float32, (w+1)*(h+1)),
		MapY:   make([]float32, (w+1)*(h+1)),
	}
	for v := 0; v <= h; v++ {
		for u := 0; u <= w; u++ {
			x, y := nk.ToNormalized(float64(u), float64(v))
			xd, yd := bc.Distort(x, y)
			mx, my := in.ToPixel(xd, yd)
			n := v*(w+1) + u
			r.MapX[n] = float32(mx)
			r.MapY[n] = float32(my)
		}
	}
	return r, nil
}

// Contains reports whether (x, y) lies in the closed table range.
func (r *Remap) Contains(x, y float64) bool {
	return x >= 0 && x <= float64(r.Width) && y >= 0 && y <= float64(r.Height)
}

// Lookup returns the table entry for the pixel containing (x, y), with the
// coordinates truncated to integers. The point must satisfy Contains.
func (r *Remap) Lookup(x, y float64) (float64, float64) {
	n := int(y)*(r.Width+1) + int(x)
	return float64(r.MapX[n]), float64(r.MapY[n])
}

// OptimalIntrinsics computes the rectified camera matrix for alpha by
// undistorting a 9x9 grid over the image and fitting the inner (alpha=0)
// and outer (alpha=1) rectangles of the result.
func OptimalIntrinsics(in Intrinsics, bc BrownConrady, width, height int, alpha float64) Intrinsics {
	const n = 9
	outerX0, outerY0 := math.Inf(1), math.Inf(1)
	outerX1, outerY1 := math.Inf(-1), math.Inf(-1)
	innerX0, innerY0 := math.Inf(-1), math.Inf(-1)
	innerX1, innerY1 := math.Inf(1), math.Inf(1)

	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			u := float64(i) * float64(width-1) / (n - 1)
			v := float64(j) * float64(height-1) / (n - 1)
			x, y := bc.Undistort(in.ToNormalized(u, v))

			outerX0 = math.Min(outerX0, x)
			outerX1 = math.Max(outerX1, x)
			outerY0 = math.Min(outerY0, y)
			outerY1 = math.Max(outerY1, y)

			if i == 0 {
				innerX0 = math.Max(innerX0, x)
			}
			if i == n-1 {
				innerX1 = math.Min(innerX1, x)
			}
			if j == 0 {
				innerY0 = math.Max(innerY0, y)
			}
			if j == n-1 {
				innerY1 = math.Min(innerY1, y)
			}
		}
	}

	w1, h1 := float64(width-1), float64(height-1)
	fx0 := w1 / (innerX1 - innerX0)
	fy0 := h1 / (innerY1 - innerY0)
	cx0 := -fx0 * innerX0
	cy0 := -fy0 * innerY0

	fx1 := w1 / (outerX1 - outerX0)
	fy1 := h1 / (outerY1 - outerY0)
	cx1 := -fx1 * outerX0
	cy1 := -fy1 * outerY0

	return Intrinsics{
		Fx: fx0*(1-alpha) + fx1*alpha,
		Fy: fy0*(1-alpha) + fy1*alpha,
		Cx: cx0*(1-alpha) + cx1*alpha,
		Cy: cy0*(1-alpha) + cy1*alpha,
	}
}
