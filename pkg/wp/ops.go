// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wp

import (
	"fmt"

	"github.com/u-root/flashkit/pkg/flash"
	"github.com/u-root/flashkit/pkg/programmer"
)

// statusRegs is the capability gate: write-protect state lives in SPI
// status registers, so the programmer must declare SPI support and be
// able to access the registers. The gate never touches the transport.
func statusRegs(ctx *flash.Context) (programmer.StatusRegisters, error) {
	if ctx.Programmer().Buses()&programmer.BusSPI == 0 {
		return nil, ErrBusUnsupported
	}
	srs, ok := ctx.Programmer().(programmer.StatusRegisters)
	if !ok {
		return nil, ErrBusUnsupported
	}
	return srs, nil
}

func encodeMode(m Mode) (srp0, srp1 uint8, err error) {
	switch m {
	case ModeDisabled:
		return 0, 0, nil
	case ModeHardware:
		return programmer.SR1SRP0Bit, 0, nil
	case ModePowerCycle:
		return 0, programmer.SR2SRP1Bit, nil
	case ModePermanent:
		// Needs per-chip OTP handling which no chip in the table
		// declares.
		return 0, 0, ErrModeUnsupported
	}
	return 0, 0, fmt.Errorf("%w: %v", ErrModeUnsupported, m)
}

func decodeMode(sr1, sr2 uint8) Mode {
	srp0 := sr1&programmer.SR1SRP0Bit != 0
	srp1 := sr2&programmer.SR2SRP1Bit != 0
	switch {
	case srp1 && srp0:
		return ModePermanent
	case srp1:
		return ModePowerCycle
	case srp0:
		return ModeHardware
	}
	return ModeDisabled
}

// ReadCfg decodes the chip's current protection mode and range from its
// status registers.
func ReadCfg(ctx *flash.Context) (*Cfg, error) {
	srs, err := statusRegs(ctx)
	if err != nil {
		return nil, err
	}
	chip := ctx.Chip()
	if chip.BPMask == 0 {
		return nil, ErrChipUnsupported
	}

	sr1, err := srs.ReadStatus(1)
	if err != nil {
		return nil, fmt.Errorf("%w: SR1: %v", ErrReadFailed, err)
	}
	sr2, err := srs.ReadStatus(2)
	if err != nil {
		return nil, fmt.Errorf("%w: SR2: %v", ErrReadFailed, err)
	}

	cfg := NewCfg()
	cfg.SetMode(decodeMode(sr1, sr2))
	bp := sr1 & chip.BPMask
	for _, r := range chip.WPRanges {
		if r.BP == bp {
			cfg.SetRange(r.Start, r.Len)
			log.Debugf("WP state: mode %v, range %#x+%#x (BP %#02x)",
				cfg.Mode(), r.Start, r.Len, bp)
			return cfg, nil
		}
	}
	log.Errorf("Chip reports unknown protection bits %#02x", bp)
	return nil, ErrChipUnsupported
}

// WriteCfg pushes cfg's mode and range to the chip and verifies they
// stuck. The range must be one the chip can enforce (see
// AvailableRanges).
func WriteCfg(ctx *flash.Context, cfg *Cfg) error {
	srs, err := statusRegs(ctx)
	if err != nil {
		return err
	}
	chip := ctx.Chip()
	if chip.BPMask == 0 {
		return ErrChipUnsupported
	}

	start, length := cfg.Range()
	bp, ok := uint8(0), false
	for _, r := range chip.WPRanges {
		if r.Start == start && r.Len == length {
			bp, ok = r.BP, true
			break
		}
	}
	if !ok {
		log.Errorf("Chip cannot protect range %#x+%#x", start, length)
		return ErrRangeUnsupported
	}
	srp0, srp1, err := encodeMode(cfg.Mode())
	if err != nil {
		return err
	}

	sr1, err := srs.ReadStatus(1)
	if err != nil {
		return fmt.Errorf("%w: SR1: %v", ErrReadFailed, err)
	}
	sr2, err := srs.ReadStatus(2)
	if err != nil {
		return fmt.Errorf("%w: SR2: %v", ErrReadFailed, err)
	}

	want1 := sr1&^(chip.BPMask|programmer.SR1SRP0Bit) | bp | srp0
	want2 := sr2&^programmer.SR2SRP1Bit | srp1
	if want1 != sr1 {
		if err := srs.WriteStatus(1, want1); err != nil {
			return fmt.Errorf("%w: SR1: %v", ErrWriteFailed, err)
		}
	}
	if want2 != sr2 {
		if err := srs.WriteStatus(2, want2); err != nil {
			return fmt.Errorf("%w: SR2: %v", ErrWriteFailed, err)
		}
	}

	got1, err := srs.ReadStatus(1)
	if err != nil {
		return fmt.Errorf("%w: SR1 readback: %v", ErrVerifyFailed, err)
	}
	got2, err := srs.ReadStatus(2)
	if err != nil {
		return fmt.Errorf("%w: SR2 readback: %v", ErrVerifyFailed, err)
	}
	if got1 != want1 || got2 != want2 {
		log.Errorf("WP write did not stick: SR1 %#02x/%#02x, SR2 %#02x/%#02x",
			got1, want1, got2, want2)
		return ErrVerifyFailed
	}
	log.Infof("WP configured: mode %v, range %#x+%#x", cfg.Mode(), start, length)
	return nil
}

// AvailableRanges enumerates the protection ranges the chip hardware can
// enforce. Not every chip can report this even when its current range is
// readable; that is ErrRangeListUnavailable, distinct from any transport
// failure.
func AvailableRanges(ctx *flash.Context) (*RangeList, error) {
	if _, err := statusRegs(ctx); err != nil {
		return nil, err
	}
	chip := ctx.Chip()
	if len(chip.WPRanges) == 0 {
		return nil, ErrRangeListUnavailable
	}

	l := &RangeList{}
	seen := make(map[Range]bool)
	for _, r := range chip.WPRanges {
		rng := Range{Start: r.Start, Len: r.Len}
		if seen[rng] {
			continue
		}
		seen[rng] = true
		l.ranges = append(l.ranges, rng)
	}
	return l, nil
}
