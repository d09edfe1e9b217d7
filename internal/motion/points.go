// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion turns a motion vector field into a frame-to-frame
// similarity transform: point correspondences, lens and gyro correction and
// a robust RANSAC fit.
package motion

import "github.com/relabs-tech/flowberry/internal/imv"

// Point is an image position in pixels.
type Point struct {
	X, Y float64
}

// Correspondences pairs source points (previous frame) with destination
// points (current frame). Src[k] corresponds to Dst[k].
type Correspondences struct {
	Src []Point
	Dst []Point
}

// Len returns the number of pairs.
func (c *Correspondences) Len() int { return len(c.Src) }

// FromField emits one pair per moving macroblock. The destination is the
// block centre and the source is the centre displaced by the vector.
func FromField(f *imv.Field) Correspondences {
	var c Correspondences
	f.Each(func(i, j int, cell imv.Cell) {
		if !cell.HasMotion() {
			return
		}
		x := float64(i*imv.BlockSize + imv.BlockSize/2)
		y := float64(j*imv.BlockSize + imv.BlockSize/2)
		c.Src = append(c.Src, Point{X: x + float64(cell.X), Y: y + float64(cell.Y)})
		c.Dst = append(c.Dst, Point{X: x, Y: y})
	})
	return c
}
