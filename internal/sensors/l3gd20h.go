// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// GyroRange is the full-scale range of the L3GD20H.
type GyroRange int

const (
	Range245DPS  GyroRange = 245
	Range500DPS  GyroRange = 500
	Range2000DPS GyroRange = 2000
)

// GyroDataRate selects output data rate and bandwidth, in the datasheet
// table order.
type GyroDataRate int

const (
	DataRate12Hz5NoCutoff GyroDataRate = iota
	DataRate25HzNoCutoff
	DataRate50HzCutoff16Hz6
	DataRate100HzCutoff12Hz5
	DataRate100HzCutoff25Hz
	DataRate200HzCutoff12Hz5
	DataRate200HzCutoff70Hz
	DataRate400HzCutoff20Hz
	DataRate400HzCutoff25Hz
	DataRate400HzCutoff50Hz
	DataRate400HzCutoff110Hz
	DataRate800HzCutoff30Hz
	DataRate800HzCutoff35Hz
	DataRate800HzCutoff100Hz
)

// dataRateBits holds the CTRL1 and LOW_ODR bits for each GyroDataRate.
var dataRateBits = [...]struct{ ctrl1, lowODR byte }{
	DataRate12Hz5NoCutoff:    {0, lowODRLowODR},
	DataRate25HzNoCutoff:     {ctrl1DR0, lowODRLowODR},
	DataRate50HzCutoff16Hz6:  {ctrl1DR1, lowODRLowODR},
	DataRate100HzCutoff12Hz5: {0, 0},
	DataRate100HzCutoff25Hz:  {ctrl1BW0, 0},
	DataRate200HzCutoff12Hz5: {ctrl1DR0, 0},
	DataRate200HzCutoff70Hz:  {ctrl1DR0 | ctrl1BW1 | ctrl1BW0, 0},
	DataRate400HzCutoff20Hz:  {ctrl1DR1, 0},
	DataRate400HzCutoff25Hz:  {ctrl1DR1 | ctrl1BW0, 0},
	DataRate400HzCutoff50Hz:  {ctrl1DR1 | ctrl1BW1, 0},
	DataRate400HzCutoff110Hz: {ctrl1DR1 | ctrl1BW1 | ctrl1BW0, 0},
	DataRate800HzCutoff30Hz:  {ctrl1DR1 | ctrl1DR0, 0},
	DataRate800HzCutoff35Hz:  {ctrl1DR1 | ctrl1DR0 | ctrl1BW0, 0},
	DataRate800HzCutoff100Hz: {ctrl1DR1 | ctrl1DR0 | ctrl1BW1 | ctrl1BW0, 0},
}

// L3GD20HOpts configures the gyro at init.
type L3GD20HOpts struct {
	Range    GyroRange
	DataRate GyroDataRate
	LowPass  bool
	HighPass bool
}

// DefaultL3GD20HOpts is 245 dps at 100 Hz with the 25 Hz low-pass output.
var DefaultL3GD20HOpts = L3GD20HOpts{
	Range:    Range245DPS,
	DataRate: DataRate100HzCutoff25Hz,
	LowPass:  true,
}

// DefaultL3GD20HAddr is the address with SDO pulled high.
const DefaultL3GD20HAddr = 0x6b

// resetTimeout bounds the wait for the soft reset bit to clear.
const resetTimeout = 100 * time.Millisecond

// L3GD20H is a driver for the ST L3GD20H three-axis gyroscope over I2C.
type L3GD20H struct {
	dev         *i2c.Dev
	sensitivity float64 // mdps per LSB
	bus         io.Closer
}

// OpenL3GD20H initializes the host, opens the named I2C bus and brings up
// the gyro. The bus is closed with the driver.
func OpenL3GD20H(busName string, addr uint16, opts *L3GD20HOpts) (*L3GD20H, error) {
	if _, err := host.Init(); err != nil {
		return nil, fault.New(fault.KindFatalInit, "l3gd20h", fmt.Errorf("periph host init: %w", err))
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fault.New(fault.KindFatalInit, "l3gd20h", fmt.Errorf("open I2C bus %s: %w", busName, err))
	}
	g, err := NewL3GD20H(bus, addr, opts)
	if err != nil {
		bus.Close()
		return nil, err
	}
	g.bus = bus
	log.Printf("l3gd20h: gyro ready on %s addr 0x%02x (±%d°/s)", busName, addr, opts.Range)
	return g, nil
}

// NewL3GD20H brings up a gyro on an already opened bus: identity check, soft
// reset, range, data rate and filter configuration, then normal mode.
func NewL3GD20H(bus i2c.Bus, addr uint16, opts *L3GD20HOpts) (*L3GD20H, error) {
	if opts == nil {
		opts = &DefaultL3GD20HOpts
	}
	initErr := func(format string, args ...any) error {
		return fault.Errorf(fault.KindFatalInit, "l3gd20h", format, args...)
	}

	g := &L3GD20H{dev: &i2c.Dev{Bus: bus, Addr: addr}}

	var ctrl4 byte
	switch opts.Range {
	case Range245DPS:
		g.sensitivity = 8.75
	case Range500DPS:
		ctrl4 |= ctrl4FS0
		g.sensitivity = 17.5
	case Range2000DPS:
		ctrl4 |= ctrl4FS1
		g.sensitivity = 70
	default:
		return nil, initErr("unknown range %d dps", opts.Range)
	}
	if opts.DataRate < 0 || int(opts.DataRate) >= len(dataRateBits) {
		return nil, initErr("unknown data rate %d", opts.DataRate)
	}
	rate := dataRateBits[opts.DataRate]

	id, err := g.readReg(regWhoAmI)
	if err != nil {
		return nil, initErr("read WHO_AM_I: %w", err)
	}
	if id != l3gd20hWhoAmIValue {
		return nil, initErr("WHO_AM_I 0x%02x, want 0x%02x", id, l3gd20hWhoAmIValue)
	}

	if err := g.writeReg(regLowODR, lowODRSwRes); err != nil {
		return nil, initErr("soft reset: %w", err)
	}
	deadline := time.Now().Add(resetTimeout)
	for {
		time.Sleep(time.Millisecond)
		v, err := g.readReg(regLowODR)
		if err != nil {
			return nil, initErr("soft reset: %w", err)
		}
		if v&lowODRSwRes == 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, initErr("reset timeout after %v", resetTimeout)
		}
	}

	if err := g.writeReg(regLowODR, rate.lowODR); err != nil {
		return nil, initErr("set LOW_ODR: %w", err)
	}
	if err := g.writeReg(regCtrl4, ctrl4); err != nil {
		return nil, initErr("set range: %w", err)
	}
	if opts.LowPass || opts.HighPass {
		var ctrl5 byte
		if opts.LowPass {
			ctrl5 |= ctrl5OutSel1
		}
		if opts.HighPass {
			ctrl5 |= ctrl5HPEn
		}
		if err := g.writeReg(regCtrl5, ctrl5); err != nil {
			return nil, initErr("set filters: %w", err)
		}
	}
	if err := g.writeReg(regCtrl1, rate.ctrl1|ctrl1XEN|ctrl1YEN|ctrl1ZEN|ctrl1PD); err != nil {
		return nil, initErr("power on: %w", err)
	}
	return g, nil
}

// Read returns the angular rates in degrees per second. With
// includeTemperature the temperature and the overrun flag are read in the
// same burst.
func (g *L3GD20H) Read(includeTemperature bool) (GyroReading, error) {
	var r GyroReading
	var xyz []byte
	if includeTemperature {
		buf := make([]byte, 8)
		if err := g.dev.Tx([]byte{regOutTemp | autoIncrement}, buf); err != nil {
			return r, fault.New(fault.KindReadFailure, "l3gd20h read", err)
		}
		r.Temperature = 25 + int(int8(buf[0]))
		r.Overrun = buf[1]&statusZYXOR != 0
		xyz = buf[2:]
	} else {
		xyz = make([]byte, 6)
		if err := g.dev.Tx([]byte{regOutXL | autoIncrement}, xyz); err != nil {
			return r, fault.New(fault.KindReadFailure, "l3gd20h read", err)
		}
	}
	r.RateX = g.scale(xyz[0:2])
	r.RateY = g.scale(xyz[2:4])
	r.RateZ = g.scale(xyz[4:6])
	return r, nil
}

// Close powers the gyro down and releases the bus if the driver opened it.
func (g *L3GD20H) Close() error {
	err := g.writeReg(regCtrl1, 0)
	if g.bus != nil {
		if cerr := g.bus.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("l3gd20h close: %w", err)
	}
	return nil
}

func (g *L3GD20H) scale(b []byte) float64 {
	raw := int16(binary.LittleEndian.Uint16(b))
	return float64(raw) * g.sensitivity / 1000
}

func (g *L3GD20H) readReg(reg byte) (byte, error) {
	var b [1]byte
	if err := g.dev.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (g *L3GD20H) writeReg(reg, value byte) error {
	return g.dev.Tx([]byte{reg, value}, nil)
}
