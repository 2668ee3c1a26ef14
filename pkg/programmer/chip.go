// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

// WPRange pairs a block-protect bit pattern with the address range it
// selects. The pattern is already masked with the chip's BPMask.
type WPRange struct {
	BP    uint8
	Start uint64
	Len   uint64
}

// Chip describes one identifiable flash chip variant.
type Chip struct {
	Vendor     string
	Name       string
	Size       int64
	PageSize   int
	SectorSize int
	// ID is the JEDEC manufacturer+device id as read by the 0x9f opcode,
	// manufacturer in the low byte.
	ID uint32

	// BPMask selects the block-protect bits in SR1 (BP0..BP2 and, where
	// present, TB/SEC). Zero means the chip has no software protection
	// range selection; WPRanges is nil in that case and range
	// enumeration is unavailable even though the mode may be settable.
	BPMask   uint8
	WPRanges []WPRange
}

func (c *Chip) String() string {
	return c.Vendor + " " + c.Name
}

const (
	// Status register bits common to the supported SPI chips.
	SR1BusyBit = 1 << 0
	SR1SRP0Bit = 1 << 7
	SR2SRP1Bit = 1 << 0
)

// MX25L25635F geometry and protection table. The protection granularity
// follows the datasheet's BP3..BP0 ladder (top-down, 64 KiB blocks).
var MX25L256 = Chip{
	Vendor:     "Macronix",
	Name:       "MX25L25635F",
	Size:       32 * 1024 * 1024,
	PageSize:   256,
	SectorSize: 64 * 1024,
	ID:         0x1920c2,
	BPMask:     0x3c,
	WPRanges:   topDownRanges(32*1024*1024, 0x3c, 2),
}

var W25Q128 = Chip{
	Vendor:     "Winbond",
	Name:       "W25Q128.V",
	Size:       16 * 1024 * 1024,
	PageSize:   256,
	SectorSize: 64 * 1024,
	ID:         0x4018ef,
	BPMask:     0x1c,
	WPRanges:   topDownRanges(16*1024*1024, 0x1c, 2),
}

var W25Q64 = Chip{
	Vendor:     "Winbond",
	Name:       "W25Q64.V",
	Size:       8 * 1024 * 1024,
	PageSize:   256,
	SectorSize: 64 * 1024,
	ID:         0x4017ef,
	BPMask:     0x1c,
	WPRanges:   topDownRanges(8*1024*1024, 0x1c, 2),
}

// KnownChips is the probe table shared by ID-based drivers, ordered so
// that probe indices are stable across runs.
var KnownChips = []*Chip{&MX25L256, &W25Q128, &W25Q64}

// ChipByID returns the first known chip with the given JEDEC id, starting
// the search at index start. Returns the table index or -1.
func ChipByID(id uint32, start int) (int, *Chip) {
	for i := start; i < len(KnownChips); i++ {
		if KnownChips[i].ID == id {
			return i, KnownChips[i]
		}
	}
	return -1, nil
}

// topDownRanges builds the standard top-down block-protect ladder: BP
// value 0 protects nothing, each increment doubles the protected area at
// the top of the chip until the whole chip is covered, and all remaining
// encodings alias whole-chip protection.
func topDownRanges(size uint64, mask uint8, shift uint) []WPRange {
	rs := []WPRange{{BP: 0, Start: 0, Len: 0}}
	bp := uint8(1)
	for l := uint64(64 * 1024); l < size && bp < mask>>shift; l *= 2 {
		rs = append(rs, WPRange{BP: (bp << shift) & mask, Start: size - l, Len: l})
		bp++
	}
	// The remaining encodings all alias whole-chip protection.
	for ; bp <= mask>>shift; bp++ {
		rs = append(rs, WPRange{BP: (bp << shift) & mask, Start: 0, Len: size})
	}
	return rs
}
