// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry converts pipeline results into flow samples and ships
// them to the flight controller and to the local status surfaces.
package telemetry

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/flowberry/internal/pipeline"
)

// DefaultPixelToMeter converts a pixel displacement into flow radians for the
// stock lens at the default resolution.
const DefaultPixelToMeter = 0.0019

// FlowSample is one published flow measurement.
type FlowSample struct {
	Time          time.Time `json:"time"`
	TimeUsec      uint64    `json:"time_usec"`
	IntegrationUs uint32    `json:"integration_us"`
	FrameUs       int64     `json:"frame_timestamp_us"`
	ProcessingUs  int64     `json:"processing_us"`

	Correspondences int     `json:"correspondences"`
	Inliers         int     `json:"inliers"`
	GoodVectors     int     `json:"good_vectors"`
	AvgSAD          float64 `json:"avg_sad"`
	AvgX            float64 `json:"avg_x"`
	AvgY            float64 `json:"avg_y"`

	Valid   bool    `json:"valid"`
	DxPx    float64 `json:"dx_px"`
	DyPx    float64 `json:"dy_px"`
	DrRad   float64 `json:"dr_rad"`
	Scale   float64 `json:"scale"`
	Quality uint8   `json:"quality"`

	GroundDistanceM float64 `json:"ground_distance_m"`
	FlowXDeciPx     int16   `json:"flow_x_decipx"`
	FlowYDeciPx     int16   `json:"flow_y_decipx"`
	FlowXRad        float64 `json:"flow_x_rad"`
	FlowYRad        float64 `json:"flow_y_rad"`
	FlowXMS         float64 `json:"flow_x_ms"`
	FlowYMS         float64 `json:"flow_y_ms"`

	GyroXRad        float64 `json:"gyro_x_rad"`
	GyroYRad        float64 `json:"gyro_y_rad"`
	GyroZRad        float64 `json:"gyro_z_rad"`
	TemperatureCdeg int16   `json:"temperature_cdeg"`
	Overruns        int     `json:"overruns"`
}

// Quality scales the inlier ratio onto 0..255.
func Quality(inliers, correspondences int) uint8 {
	if correspondences <= 0 || inliers <= 0 {
		return 0
	}
	q := 255 * inliers / correspondences
	return uint8(min(q, 255))
}

// Converter turns pipeline outputs into flow samples. It keeps the time of
// the previous sample to integrate over; the first output only primes it.
type Converter struct {
	pixelToMeter float64
	clock        clock.Clock
	prev         time.Time
}

// NewConverter returns a Converter. clk may be nil for the wall clock.
func NewConverter(pixelToMeter float64, clk clock.Clock) *Converter {
	if clk == nil {
		clk = clock.New()
	}
	return &Converter{pixelToMeter: pixelToMeter, clock: clk}
}

// Convert builds the sample for out. It reports false for the first output.
func (c *Converter) Convert(out pipeline.Output) (FlowSample, bool) {
	now := c.clock.Now()
	if c.prev.IsZero() {
		c.prev = now
		return FlowSample{}, false
	}
	integration := now.Sub(c.prev)
	c.prev = now
	dt := integration.Seconds()

	tr := out.Motion.Transform
	s := FlowSample{
		Time:            now,
		TimeUsec:        uint64(now.UnixMicro()),
		IntegrationUs:   uint32(integration.Microseconds()),
		FrameUs:         out.Timestamp,
		ProcessingUs:    out.Elapsed.Microseconds(),
		Correspondences: out.Motion.Correspondences,
		Inliers:         tr.Inliers,
		GoodVectors:     out.Stats.GoodCount,
		AvgSAD:          out.Stats.AvgSAD,
		AvgX:            out.Stats.AvgX,
		AvgY:            out.Stats.AvgY,
		Valid:           tr.Valid,
		GroundDistanceM: float64(out.Sensors.DistanceMM) / 1000,
		TemperatureCdeg: int16(out.Sensors.Temperature * 100),
		Overruns:        out.Sensors.Overruns,
	}
	if tr.Valid {
		s.DxPx = tr.TX
		s.DyPx = tr.TY
		s.DrRad = tr.Rotation()
		s.Scale = tr.Scale()
		s.Quality = Quality(tr.Inliers, out.Motion.Correspondences)
	}

	s.FlowXDeciPx = int16(math.Round(s.DxPx * 10))
	s.FlowYDeciPx = int16(math.Round(s.DyPx * 10))
	s.FlowXRad = c.pixelToMeter * s.DxPx
	s.FlowYRad = c.pixelToMeter * s.DyPx
	if dt > 0 {
		s.FlowXMS = s.FlowXRad / dt * s.GroundDistanceM
		s.FlowYMS = s.FlowYRad / dt * s.GroundDistanceM
	}
	s.GyroXRad = out.Sensors.GyroX * math.Pi / 180 * dt
	s.GyroYRad = out.Sensors.GyroY * math.Pi / 180 * dt
	s.GyroZRad = s.DrRad
	return s, true
}
