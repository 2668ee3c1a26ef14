// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ifd decodes the Intel flash descriptor block found at the base
// of an Intel firmware image. Decoding is a pure function of the input
// bytes; reading the block off the chip is the caller's business.
package ifd

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BlockSize is how much of the chip the descriptor occupies. The
// structure is always read and decoded as one block of this size.
const BlockSize = 4096

const (
	sigOffset = 0x10
	signature = 0x0ff0a55a

	flmap0Offset = 0x14
)

// Region names by descriptor region number.
var regionNames = []string{"fd", "bios", "me", "gbe", "pd", "reg5", "reg6", "reg7", "reg8", "ec"}

var ErrNotDescriptor = errors.New("ifd: no descriptor signature")

// Region is one used descriptor region. Base and Limit are byte
// addresses; Limit is inclusive.
type Region struct {
	Base  uint64
	Limit uint64
	Name  string
}

// Layout is a decoded descriptor. Raw holds the region entry words
// exactly as found on flash so two descriptors can be compared without
// re-encoding.
type Layout struct {
	Regions []Region
	Raw     []uint32
}

// Decode parses a descriptor block. b must hold at least BlockSize bytes;
// the signature and every region entry must be inside the block.
func Decode(b []byte) (*Layout, error) {
	if len(b) < BlockSize {
		return nil, fmt.Errorf("ifd: block too short: %d bytes", len(b))
	}
	if binary.LittleEndian.Uint32(b[sigOffset:]) != signature {
		return nil, ErrNotDescriptor
	}

	flmap0 := binary.LittleEndian.Uint32(b[flmap0Offset:])
	frba := int(flmap0>>16&0xff) << 4
	nr := int(flmap0 >> 24 & 0x7)
	if nr == 0 || nr >= len(regionNames) {
		// NR is deprecated on newer descriptors; fall back to the
		// classic five-region map.
		nr = 4
	}
	// Region numbers are 0-based, NR is the highest region number.
	count := nr + 1
	if frba+4*count > BlockSize {
		return nil, fmt.Errorf("ifd: region table outside block (FRBA %#x)", frba)
	}

	l := &Layout{}
	for i := 0; i < count; i++ {
		v := binary.LittleEndian.Uint32(b[frba+4*i:])
		l.Raw = append(l.Raw, v)
		base := uint64(v&0x1fff) << 12
		limit := uint64(v>>16&0x1fff)<<12 | 0xfff
		if base > limit {
			// Region unused on this platform.
			continue
		}
		l.Regions = append(l.Regions, Region{Base: base, Limit: limit, Name: regionNames[i]})
	}
	return l, nil
}
