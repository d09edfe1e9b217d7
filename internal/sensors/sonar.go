// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// DefaultSonarPort is the Pi's primary UART.
const DefaultSonarPort = "/dev/ttyAMA0"

// maxSonarDigits bounds one range frame; longer runs are discarded.
const maxSonarDigits = 16

// Sonar reads a MaxBotix-style serial rangefinder that streams frames of
// the form "R<digits>\r", the digits being the range in millimetres.
type Sonar struct {
	port   io.ReadCloser
	r      *bufio.Reader
	digits []byte
	saving bool
}

// OpenSonar opens the serial port at 8N1.
func OpenSonar(portName string, baud uint) (*Sonar, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 1000,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fault.New(fault.KindFatalInit, "sonar", fmt.Errorf("open %s: %w", portName, err))
	}
	log.Printf("sonar: serial port opened on %s at %d baud", portName, baud)
	return NewSonar(port), nil
}

// NewSonar wraps an open byte stream.
func NewSonar(port io.ReadCloser) *Sonar {
	return &Sonar{port: port, r: bufio.NewReader(port), digits: make([]byte, 0, maxSonarDigits)}
}

// Read blocks until a complete frame arrives and returns its range.
func (s *Sonar) Read() (int, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return 0, fault.New(fault.KindReadFailure, "sonar read", err)
		}
		switch b {
		case 'R':
			s.saving = true
			s.digits = s.digits[:0]
		case '\r':
			if !s.saving || len(s.digits) == 0 {
				continue
			}
			mm, err := strconv.Atoi(string(s.digits))
			s.digits = s.digits[:0]
			if err != nil {
				continue
			}
			return mm, nil
		default:
			if !s.saving {
				continue
			}
			s.digits = append(s.digits, b)
			if len(s.digits) == maxSonarDigits {
				s.saving = false
			}
		}
	}
}

// Close releases the port.
func (s *Sonar) Close() error {
	return s.port.Close()
}
