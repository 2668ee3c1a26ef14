// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dummy emulates a programmer with an in-memory flash chip. It
// exists for development and for exercising the coordination layer
// without hardware; every transport touch is counted so tests can assert
// what was (and was not) accessed.
package dummy

import (
	"fmt"

	"github.com/u-root/flashkit/pkg/programmer"
)

// Programmer is an in-memory flash emulator. The zero value is not
// usable; construct with New.
type Programmer struct {
	name  string
	buses programmer.Bus
	chips []*programmer.Chip
	mem   []byte
	sr    [2]uint8

	// DropStatusWrites makes WriteStatus acknowledge and discard, the
	// way a chip with a held WP# pin behaves. Lets tests force the
	// verify-failed path.
	DropStatusWrites bool

	// Transport call counters.
	Probes       int
	Reads        int
	Writes       int
	StatusReads  int
	StatusWrites int
	Locks        int
	Unlocks      int
}

// New builds an emulator that probe-matches the given chips in order.
// The backing memory is sized for the largest chip and starts erased
// (0xff).
func New(buses programmer.Bus, chips ...*programmer.Chip) *Programmer {
	var size int64
	for _, c := range chips {
		if c.Size > size {
			size = c.Size
		}
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xff
	}
	return &Programmer{
		name:  "dummy",
		buses: buses,
		chips: chips,
		mem:   mem,
	}
}

func (p *Programmer) Name() string {
	return p.name
}

func (p *Programmer) Buses() programmer.Bus {
	return p.buses
}

// Probe matches the configured chips at successive indices.
func (p *Programmer) Probe(start int) (int, *programmer.Chip) {
	p.Probes++
	if start < 0 || start >= len(p.chips) {
		return -1, nil
	}
	return start, p.chips[start]
}

func (p *Programmer) ReadAt(b []byte, off int64) (int, error) {
	p.Reads++
	if off < 0 || off+int64(len(b)) > int64(len(p.mem)) {
		return 0, fmt.Errorf("dummy: read [%#x..%#x) outside chip", off, off+int64(len(b)))
	}
	n := copy(b, p.mem[off:])
	programmer.CountRead(p.name, n)
	return n, nil
}

func (p *Programmer) WriteAt(b []byte, off int64) (int, error) {
	p.Writes++
	if off < 0 || off+int64(len(b)) > int64(len(p.mem)) {
		return 0, fmt.Errorf("dummy: write [%#x..%#x) outside chip", off, off+int64(len(b)))
	}
	n := copy(p.mem[off:], b)
	programmer.CountWrite(p.name, n)
	return n, nil
}

func (p *Programmer) ReadStatus(reg int) (uint8, error) {
	p.StatusReads++
	if reg < 1 || reg > len(p.sr) {
		return 0, fmt.Errorf("dummy: no status register %d", reg)
	}
	return p.sr[reg-1], nil
}

func (p *Programmer) WriteStatus(reg int, v uint8) error {
	p.StatusWrites++
	if reg < 1 || reg > len(p.sr) {
		return fmt.Errorf("dummy: no status register %d", reg)
	}
	if !p.DropStatusWrites {
		p.sr[reg-1] = v
	}
	return nil
}

func (p *Programmer) Lock() error {
	p.Locks++
	return nil
}

func (p *Programmer) Unlock() {
	p.Unlocks++
}

func (p *Programmer) Shutdown() error {
	return nil
}

// LoadImage copies b into the emulated chip at off, bypassing the
// transport counters. Test setup helper.
func (p *Programmer) LoadImage(b []byte, off int64) {
	copy(p.mem[off:], b)
}

// SetStatus seeds a status register, bypassing the counters.
func (p *Programmer) SetStatus(reg int, v uint8) {
	p.sr[reg-1] = v
}
