// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors samples the gyroscope and the rangefinder in the
// background and exposes the latest readings as one shared snapshot.
package sensors

// GyroReading is one gyro sample.
type GyroReading struct {
	RateX, RateY, RateZ float64 // degrees per second
	Temperature         int     // degrees Celsius
	Overrun             bool    // the device overwrote an unread sample
}

// GyroDriver reads angular rates. Bring-up happens in the constructor.
type GyroDriver interface {
	Read(includeTemperature bool) (GyroReading, error)
	Close() error
}

// RangeDriver reads the distance to ground in millimetres.
type RangeDriver interface {
	Read() (int, error)
	Close() error
}
