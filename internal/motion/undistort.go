package motion

// Remapper looks up undistorted positions for pixels inside its bounds.
// *camera.Remap implements it.
type Remapper interface {
	Contains(x, y float64) bool
	Lookup(x, y float64) (float64, float64)
}

// Undistorter corrects correspondence positions for lens distortion.
type Undistorter struct {
	remap Remapper
}

// NewUndistorter returns an Undistorter. A nil remap disables correction.
func NewUndistorter(remap Remapper) *Undistorter {
	return &Undistorter{remap: remap}
}

// Enabled reports whether a remap table is configured.
func (u *Undistorter) Enabled() bool { return u != nil && u.remap != nil }

// Apply remaps every pair whose source and destination both fall inside the
// table. Pairs with either end outside are left unchanged and kept. It
// returns the number of remapped pairs.
func (u *Undistorter) Apply(c *Correspondences) int {
	if !u.Enabled() {
		return 0
	}
	n := 0
	for k := range c.Src {
		s, d := c.Src[k], c.Dst[k]
		if !u.remap.Contains(s.X, s.Y) || !u.remap.Contains(d.X, d.Y) {
			continue
		}
		c.Src[k].X, c.Src[k].Y = u.remap.Lookup(s.X, s.Y)
		c.Dst[k].X, c.Dst[k].Y = u.remap.Lookup(d.X, d.Y)
		n++
	}
	return n
}
