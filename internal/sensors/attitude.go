package sensors

import "time"

// Attitude integrates gyro rates into angles in degrees, each kept in
// [-180, 180].
type Attitude struct {
	X, Y, Z float64
}

// Integrate adds r over period.
func (a *Attitude) Integrate(r GyroReading, period time.Duration) {
	s := period.Seconds()
	a.X = wrapDegrees(a.X + r.RateX*s)
	a.Y = wrapDegrees(a.Y + r.RateY*s)
	a.Z = wrapDegrees(a.Z + r.RateZ*s)
}

func wrapDegrees(v float64) float64 {
	for v < -180 {
		v += 360
	}
	for v > 180 {
		v -= 360
	}
	return v
}
