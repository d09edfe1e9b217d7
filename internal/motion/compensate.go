package motion

import (
	"math"
	"time"
)

// DefaultFocalConstant converts a small camera rotation (tan of the angle)
// into a pixel shift for the stock camera module and resolution.
const DefaultFocalConstant = 531.9335

// Compensator removes the apparent motion caused by camera rotation from the
// source points, using the gyro rates sampled since the previous frame.
type Compensator struct {
	k    float64
	prev time.Time
}

// NewCompensator returns a Compensator with focal constant k in pixels.
func NewCompensator(k float64) *Compensator {
	return &Compensator{k: k}
}

// Compensate shifts every source point by the rotation accumulated over the
// time since the previous call. rateX and rateY are in degrees per second.
// The first call only records now and applies no correction. The returned
// shifts are in pixels.
func (g *Compensator) Compensate(c *Correspondences, rateX, rateY float64, now time.Time) (corrX, corrY float64) {
	if g.prev.IsZero() {
		g.prev = now
		return 0, 0
	}
	dt := now.Sub(g.prev).Seconds()
	g.prev = now

	corrX = g.k * math.Tan(rateX*math.Pi/180*dt)
	corrY = g.k * math.Tan(rateY*math.Pi/180*dt)
	for k := range c.Src {
		c.Src[k].X -= corrX
		c.Src[k].Y += corrY
	}
	return corrX, corrY
}
