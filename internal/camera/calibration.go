// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package camera holds the lens calibration and the precomputed undistortion
// remap tables used to correct motion vector positions.
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// Calibration is the pinhole model plus Brown-Conrady distortion of the
// camera, as produced by a chessboard calibration run.
type Calibration struct {
	// CameraMatrix is the row-major 3x3 intrinsic matrix
	// [fx 0 cx; 0 fy cy; 0 0 1].
	CameraMatrix []float64 `json:"camera_matrix"`
	// Distortion holds k1 k2 p1 p2 and optionally k3.
	Distortion []float64 `json:"distortion_coefficients"`
	Width      int       `json:"image_width"`
	Height     int       `json:"image_height"`
}

// LoadCalibration reads a JSON calibration record. A missing file is
// reported as a missing-calibration fault.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.New(fault.KindMissingCalibration, "camera calibration", err)
		}
		return nil, fmt.Errorf("failed to read camera calibration: %w", err)
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse camera calibration %s: %w", path, err)
	}
	if err := cal.CheckValid(); err != nil {
		return nil, fmt.Errorf("camera calibration %s: %w", path, err)
	}
	return &cal, nil
}

// CheckValid validates the shape of the record.
func (c *Calibration) CheckValid() error {
	if len(c.CameraMatrix) != 9 {
		return fmt.Errorf("camera_matrix needs 9 values, got %d", len(c.CameraMatrix))
	}
	if c.CameraMatrix[0] <= 0 || c.CameraMatrix[4] <= 0 {
		return fmt.Errorf("focal lengths must be positive, got fx=%g fy=%g", c.CameraMatrix[0], c.CameraMatrix[4])
	}
	if n := len(c.Distortion); n != 0 && n != 4 && n != 5 {
		return fmt.Errorf("distortion_coefficients needs 4 or 5 values, got %d", n)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", c.Width, c.Height)
	}
	return nil
}

// Intrinsics returns the pinhole parameters.
func (c *Calibration) Intrinsics() Intrinsics {
	return Intrinsics{Fx: c.CameraMatrix[0], Fy: c.CameraMatrix[4], Cx: c.CameraMatrix[2], Cy: c.CameraMatrix[5]}
}

// BrownConrady returns the distortion model.
func (c *Calibration) BrownConrady() BrownConrady {
	var d [5]float64
	copy(d[:], c.Distortion)
	return BrownConrady{K1: d[0], K2: d[1], P1: d[2], P2: d[3], K3: d[4]}
}

// Intrinsics is a pinhole camera projection.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// ToNormalized maps a pixel onto the normalized image plane.
func (in Intrinsics) ToNormalized(u, v float64) (float64, float64) {
	return (u - in.Cx) / in.Fx, (v - in.Cy) / in.Fy
}

// ToPixel maps a normalized point back to pixels.
func (in Intrinsics) ToPixel(x, y float64) (float64, float64) {
	return in.Fx*x + in.Cx, in.Fy*y + in.Cy
}
