package motion

import (
	"time"

	"github.com/relabs-tech/flowberry/internal/imv"
)

// Result is the motion estimate for one field.
type Result struct {
	Correspondences int
	Undistorted     int
	CorrX, CorrY    float64 // gyro shift applied to the sources, pixels
	Transform       Similarity
}

// Calculator chains correspondence extraction, undistortion, gyro
// compensation and estimation.
type Calculator struct {
	Undistorter *Undistorter
	Compensator *Compensator
	Estimator   *Estimator
}

// NewCalculator wires the stages. undistorter may be nil.
func NewCalculator(u *Undistorter, comp *Compensator, est *Estimator) *Calculator {
	if u == nil {
		u = NewUndistorter(nil)
	}
	return &Calculator{Undistorter: u, Compensator: comp, Estimator: est}
}

// Calculate estimates the frame motion from f. Correction runs only when the
// field has at least one moving block; estimation needs MinPoints pairs.
func (c *Calculator) Calculate(f *imv.Field, rateX, rateY float64, now time.Time) Result {
	pts := FromField(f)
	res := Result{Correspondences: pts.Len(), Transform: Invalid}
	if pts.Len() == 0 {
		return res
	}
	res.Undistorted = c.Undistorter.Apply(&pts)
	res.CorrX, res.CorrY = c.Compensator.Compensate(&pts, rateX, rateY, now)
	if pts.Len() >= MinPoints {
		res.Transform = c.Estimator.Estimate(pts, f.Timestamp())
	}
	return res
}
