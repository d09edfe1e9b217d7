// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imv decodes the inline motion vectors emitted by the H.264 encoder.
//
// The encoder writes one 4-byte cell per 16x16 macroblock, plus one extra
// cell at the end of every row. The extra column carries no motion and is
// never scanned, but it is part of the row stride and must be kept when
// indexing raw buffers.
package imv

import (
	"encoding/binary"
	"fmt"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// BlockSize is the macroblock edge in pixels.
const BlockSize = 16

// CellSize is the encoded size of one vector cell in bytes.
const CellSize = 4

// Cell is one macroblock motion vector: displacement in pixels and the
// encoder's sum of absolute differences for the match.
type Cell struct {
	X   int8
	Y   int8
	SAD uint16
}

// HasMotion reports whether the displacement is non-zero. The all-zero
// sentinel cell never has motion.
func (c Cell) HasMotion() bool {
	return c.X != 0 || c.Y != 0
}

// IsSentinel reports whether c is the (0,0,0) sentinel.
func (c Cell) IsSentinel() bool {
	return c.X == 0 && c.Y == 0 && c.SAD == 0
}

// Geometry describes the macroblock grid for a frame size.
type Geometry struct {
	Width  int // frame width rounded up to a multiple of 16
	Height int // frame height rounded up to a multiple of 16
	MBX    int // macroblock columns
	MBY    int // macroblock rows
}

// NewGeometry rounds width and height up to the macroblock size.
func NewGeometry(width, height int) (Geometry, error) {
	if width <= 0 || height <= 0 {
		return Geometry{}, fmt.Errorf("imv: invalid frame size %dx%d", width, height)
	}
	w := (width + BlockSize - 1) / BlockSize * BlockSize
	h := (height + BlockSize - 1) / BlockSize * BlockSize
	return Geometry{Width: w, Height: h, MBX: w / BlockSize, MBY: h / BlockSize}, nil
}

// Stride is the number of cells per encoded row.
func (g Geometry) Stride() int { return g.MBX + 1 }

// VectorBufferSize is the expected byte length of one vector buffer.
func (g Geometry) VectorBufferSize() int { return g.Stride() * g.MBY * CellSize }

// FrameBufferSize is the expected byte length of one luma frame buffer.
func (g Geometry) FrameBufferSize() int { return g.Width * g.Height }

// Field is an owned copy of one frame's vectors.
type Field struct {
	geom      Geometry
	cells     []Cell
	timestamp int64
}

// ParseField decodes buf into a new Field. The length must match the
// geometry exactly; a mismatch is a fail-stop condition.
func ParseField(geom Geometry, buf []byte, timestamp int64) (*Field, error) {
	if want := geom.VectorBufferSize(); len(buf) != want {
		return nil, fault.Errorf(fault.KindFailStop, "imv parse", "vector buffer length %d, want %d", len(buf), want)
	}
	cells := make([]Cell, geom.Stride()*geom.MBY)
	for n := range cells {
		b := buf[n*CellSize:]
		cells[n] = Cell{
			X:   int8(b[0]),
			Y:   int8(b[1]),
			SAD: binary.LittleEndian.Uint16(b[2:4]),
		}
	}
	return &Field{geom: geom, cells: cells, timestamp: timestamp}, nil
}

// NewField returns a Field with every cell set to the sentinel.
func NewField(geom Geometry, timestamp int64) *Field {
	return &Field{geom: geom, cells: make([]Cell, geom.Stride()*geom.MBY), timestamp: timestamp}
}

// Geometry returns the grid geometry.
func (f *Field) Geometry() Geometry { return f.geom }

// Timestamp returns the capture timestamp in microseconds.
func (f *Field) Timestamp() int64 { return f.timestamp }

func (f *Field) index(i, j int) int {
	if i < 0 || i >= f.geom.MBX || j < 0 || j >= f.geom.MBY {
		panic(fmt.Sprintf("imv: cell (%d,%d) out of range %dx%d", i, j, f.geom.MBX, f.geom.MBY))
	}
	return i + f.geom.Stride()*j
}

// At returns the cell of macroblock (i, j). It panics when out of range.
func (f *Field) At(i, j int) Cell { return f.cells[f.index(i, j)] }

// Set stores c at macroblock (i, j).
func (f *Field) Set(i, j int, c Cell) { f.cells[f.index(i, j)] = c }

// Each calls fn for every scanned macroblock in row-major order. The
// padding column is skipped.
func (f *Field) Each(fn func(i, j int, c Cell)) {
	stride := f.geom.Stride()
	for j := 0; j < f.geom.MBY; j++ {
		row := f.cells[j*stride : j*stride+f.geom.MBX]
		for i, c := range row {
			fn(i, j, c)
		}
	}
}

// Encode writes the field back into the encoder's wire layout.
func (f *Field) Encode() []byte {
	buf := make([]byte, len(f.cells)*CellSize)
	for n, c := range f.cells {
		b := buf[n*CellSize:]
		b[0] = byte(c.X)
		b[1] = byte(c.Y)
		binary.LittleEndian.PutUint16(b[2:4], c.SAD)
	}
	return buf
}
