// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package programmer defines the contract between the flash coordination
// layer and the hardware-specific transport drivers, and the registry the
// probe engine iterates over.
package programmer

import (
	"fmt"

	"github.com/u-root/flashkit/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// Bus is a bitmask of hardware bus classes a programmer can drive.
type Bus uint32

const (
	BusParallel Bus = 1 << iota
	BusLPC
	BusFWH
	BusSPI
	// BusProg marks opaque programmers that expose read/write but hide
	// the underlying signaling (e.g. a kernel flash driver).
	BusProg
)

func (b Bus) String() string {
	names := []struct {
		bit  Bus
		name string
	}{
		{BusParallel, "parallel"},
		{BusLPC, "lpc"},
		{BusFWH, "fwh"},
		{BusSPI, "spi"},
		{BusProg, "prog"},
	}
	s := ""
	for _, n := range names {
		if b&n.bit == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += n.name
	}
	if s == "" {
		return "none"
	}
	return s
}

// Programmer is one registered transport. Probe attempts chip
// identification starting at the given chip-table index and returns the
// index of the match and the matched chip, or -1 and nil. A single
// programmer may match several chip variants at different indices.
//
// ReadAt and WriteAt address chip memory directly. Calls are synchronous;
// timeout policy, if any, lives in the driver.
type Programmer interface {
	Name() string
	Buses() Bus
	Probe(start int) (int, *Chip)
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Shutdown() error
}

// StatusRegisters is implemented by SPI-capable programmers that can
// access the chip's status registers. reg is 1-based (SR1, SR2, ...).
type StatusRegisters interface {
	ReadStatus(reg int) (uint8, error)
	WriteStatus(reg int, v uint8) error
}

// Locker is implemented by programmers that need exclusive chip access
// bracketing around memory operations. Lock must be paired with Unlock on
// every exit path.
type Locker interface {
	Lock() error
	Unlock()
}

// Registry is an ordered collection of initialized programmers. It is
// caller-owned and read-only once probing starts; only one registry is
// expected to drive hardware at a time.
type Registry struct {
	masters []Programmer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p to the registry. Registration order is probe order.
func (r *Registry) Register(p Programmer) {
	log.Debugf("Registering programmer %s (buses: %s)", p.Name(), p.Buses())
	r.masters = append(r.masters, p)
}

// Masters returns the registered programmers in registration order.
func (r *Registry) Masters() []Programmer {
	return r.masters
}

// Shutdown shuts down every registered programmer. All programmers are
// attempted even if one fails; the first error is returned.
func (r *Registry) Shutdown() error {
	var first error
	for _, m := range r.masters {
		if err := m.Shutdown(); err != nil {
			log.Errorf("Shutdown of %s failed: %v", m.Name(), err)
			if first == nil {
				first = fmt.Errorf("shutdown %s: %v", m.Name(), err)
			}
		}
	}
	r.masters = nil
	return first
}
