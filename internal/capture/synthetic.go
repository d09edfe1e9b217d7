// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/motion"
)

const (
	inlierSAD  = 120
	outlierSAD = 900
	maxOutlier = 24
)

// Synthetic generates vector fields for a fixed similarity motion, with a
// fraction of the blocks replaced by random outliers. It stands in for the
// camera on the bench.
type Synthetic struct {
	geom    imv.Geometry
	motion  motion.Similarity
	outlier float64
	rng     *rand.Rand
	frames  int
}

// NewSynthetic returns a generator for geom. m maps the previous position of
// a block onto its current centre.
func NewSynthetic(geom imv.Geometry, m motion.Similarity, outlierRatio float64, seed uint64) *Synthetic {
	return &Synthetic{
		geom:    geom,
		motion:  m,
		outlier: outlierRatio,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Field builds one field stamped with timestamp.
func (s *Synthetic) Field(timestamp int64) *imv.Field {
	f := imv.NewField(s.geom, timestamp)
	for j := 0; j < s.geom.MBY; j++ {
		for i := 0; i < s.geom.MBX; i++ {
			f.Set(i, j, s.cell(i, j))
		}
	}
	return f
}

// Buffer is Field encoded as the camera would write it.
func (s *Synthetic) Buffer(timestamp int64) []byte { return s.Field(timestamp).Encode() }

func (s *Synthetic) cell(i, j int) imv.Cell {
	if s.rng.Float64() < s.outlier {
		return imv.Cell{
			X:   int8(s.rng.IntN(2*maxOutlier+1) - maxOutlier),
			Y:   int8(s.rng.IntN(2*maxOutlier+1) - maxOutlier),
			SAD: outlierSAD,
		}
	}
	c := motion.Point{
		X: float64(i*imv.BlockSize + imv.BlockSize/2),
		Y: float64(j*imv.BlockSize + imv.BlockSize/2),
	}
	src := s.inverse(c)
	return imv.Cell{
		X:   clampInt8(math.Round(src.X - c.X)),
		Y:   clampInt8(math.Round(src.Y - c.Y)),
		SAD: inlierSAD,
	}
}

// inverse solves motion(p) = c for p.
func (s *Synthetic) inverse(c motion.Point) motion.Point {
	a, b := s.motion.A, s.motion.B
	d := a*a + b*b
	if d == 0 {
		return c
	}
	x, y := c.X-s.motion.TX, c.Y-s.motion.TY
	return motion.Point{X: (a*x + b*y) / d, Y: (a*y - b*x) / d}
}

func clampInt8(v float64) int8 {
	return int8(max(math.MinInt8, min(math.MaxInt8, v)))
}

// Frame returns a luma frame for geom: a diagonal gradient drifting by the
// field translation once per call, so overlays have something to sit on.
func (s *Synthetic) Frame() []byte {
	buf := make([]byte, s.geom.FrameBufferSize())
	dx, dy := int(math.Round(s.motion.TX)), int(math.Round(s.motion.TY))
	s.frames++
	for y := 0; y < s.geom.Height; y++ {
		row := buf[y*s.geom.Width : (y+1)*s.geom.Width]
		for x := range row {
			row[x] = byte(x + y - s.frames*(dx+dy))
		}
	}
	return buf
}

// Run ingests one vector buffer per period until ctx ends or an ingest
// fails. When frames is set, each field is preceded by a frame with the same
// timestamp.
func (s *Synthetic) Run(ctx context.Context, period time.Duration, clk clock.Clock, vectors, frames IngestFunc) error {
	if clk == nil {
		clk = clock.New()
	}
	epoch := NewEpoch(clk)
	ticker := clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ts := epoch.Micros()
			if frames != nil {
				if err := frames(s.Frame(), ts); err != nil {
					return err
				}
			}
			if err := vectors(s.Buffer(ts), ts); err != nil {
				return err
			}
		}
	}
}
