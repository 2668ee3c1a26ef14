// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wp reads and writes the hardware write-protection state of SPI
// flash chips through a flash.Context. All hardware access is gated on
// the programmer declaring SPI bus support; on anything else every
// operation fails with ErrBusUnsupported before touching the transport.
package wp

import (
	"errors"
	"fmt"

	"github.com/u-root/flashkit/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	ErrBusUnsupported       = errors.New("wp: programmer bus cannot carry write-protect operations")
	ErrChipUnsupported      = errors.New("wp: chip does not support write protection")
	ErrReadFailed           = errors.New("wp: reading chip state failed")
	ErrWriteFailed          = errors.New("wp: writing chip state failed")
	ErrVerifyFailed         = errors.New("wp: chip state did not stick")
	ErrRangeUnsupported     = errors.New("wp: chip cannot protect the requested range")
	ErrModeUnsupported      = errors.New("wp: chip cannot use the requested mode")
	ErrRangeListUnavailable = errors.New("wp: chip cannot enumerate protection ranges")
	ErrOutOfRange           = errors.New("wp: range index out of bounds")
)

// Mode is the write-protection latching mode.
type Mode int

const (
	// ModeDisabled leaves the configured range writable.
	ModeDisabled Mode = iota
	// ModeHardware latches protection while the WP# pin is asserted.
	ModeHardware
	// ModePowerCycle latches protection until the next power cycle.
	ModePowerCycle
	// ModePermanent latches protection for the life of the chip.
	ModePermanent
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeHardware:
		return "hardware"
	case ModePowerCycle:
		return "power_cycle"
	case ModePermanent:
		return "permanent"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Range is a protected address range.
type Range struct {
	Start uint64
	Len   uint64
}

// Cfg is a write-protection intent or snapshot. It is a plain value
// object: hardware validation happens only when it is written to a chip.
// The zero value is mode disabled with an empty range.
type Cfg struct {
	mode Mode
	rng  Range
}

// NewCfg returns a zero-initialized configuration.
func NewCfg() *Cfg {
	return &Cfg{}
}

func (c *Cfg) SetMode(m Mode) {
	c.mode = m
}

func (c *Cfg) Mode() Mode {
	return c.mode
}

func (c *Cfg) SetRange(start, length uint64) {
	c.rng = Range{Start: start, Len: length}
}

func (c *Cfg) Range() (start, length uint64) {
	return c.rng.Start, c.rng.Len
}

// RangeList is the ordered set of ranges a chip can actually enforce,
// independent of what is currently configured.
type RangeList struct {
	ranges []Range
}

// Count returns the number of ranges in the list.
func (l *RangeList) Count() int {
	return len(l.ranges)
}

// Range returns the i-th range. The index is checked before the backing
// storage is touched.
func (l *RangeList) Range(i int) (Range, error) {
	if i < 0 || i >= len(l.ranges) {
		return Range{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(l.ranges))
	}
	return l.ranges[i], nil
}
