// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// L3GD20H register map (datasheet DocID023469).
const (
	l3gd20hWhoAmIValue = 0xD7

	regWhoAmI  = 0x0F
	regCtrl1   = 0x20
	regCtrl4   = 0x23
	regCtrl5   = 0x24
	regOutTemp = 0x26
	regStatus  = 0x27
	regOutXL   = 0x28
	regLowODR  = 0x39

	// autoIncrement is OR-ed into the sub-address for multi-byte reads.
	autoIncrement = 1 << 7
)

// CTRL1
const (
	ctrl1DR1 = 1 << 7
	ctrl1DR0 = 1 << 6
	ctrl1BW1 = 1 << 5
	ctrl1BW0 = 1 << 4
	ctrl1PD  = 1 << 3
	ctrl1ZEN = 1 << 2
	ctrl1XEN = 1 << 1
	ctrl1YEN = 1 << 0
)

// CTRL4, CTRL5, STATUS, LOW_ODR
const (
	ctrl4FS1 = 1 << 5
	ctrl4FS0 = 1 << 4

	ctrl5OutSel1 = 1 << 1
	ctrl5HPEn    = 1 << 4

	statusZYXOR = 1 << 7

	lowODRSwRes  = 1 << 2
	lowODRLowODR = 1 << 0
)
