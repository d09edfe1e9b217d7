package imv

// sadMargin widens the mean match error into the acceptance limit.
const sadMargin = 1.1

// Stats summarises a field.
type Stats struct {
	AvgSAD    float64 // acceptance limit: 1.1 x mean SAD of moving cells
	AvgX      float64 // mean x displacement of accepted cells
	AvgY      float64
	GoodCount int // cells with motion and SAD <= AvgSAD
}

// Stats makes two passes over the field. The first averages the SAD of every
// moving cell; the second averages the displacement of the moving cells whose
// SAD does not exceed 1.1 times that mean.
func (f *Field) Stats() Stats {
	var st Stats

	var sum, n int
	f.Each(func(_, _ int, c Cell) {
		if !c.HasMotion() {
			return
		}
		sum += int(c.SAD)
		n++
	})
	if n > 0 {
		st.AvgSAD = sadMargin * float64(sum) / float64(n)
	}

	var sx, sy int
	f.Each(func(_, _ int, c Cell) {
		if !c.HasMotion() || float64(c.SAD) > st.AvgSAD {
			return
		}
		sx += int(c.X)
		sy += int(c.Y)
		st.GoodCount++
	})
	if st.GoodCount > 0 {
		st.AvgX = float64(sx) / float64(st.GoodCount)
		st.AvgY = float64(sy) / float64(st.GoodCount)
	}
	return st
}
