// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/u-root/flashkit/pkg/ifd"
	"github.com/u-root/flashkit/pkg/programmer"
	"github.com/u-root/flashkit/pkg/programmer/dummy"
)

// testDescriptor builds a descriptor block with three region entries:
// fd [0..0xfff], bios [0x1000..0x7fffff] and an unused third slot.
func testDescriptor() []byte {
	b := make([]byte, ifd.BlockSize)
	binary.LittleEndian.PutUint32(b[0x10:], 0x0ff0a55a)
	// FRBA 0x40, highest region number 2.
	binary.LittleEndian.PutUint32(b[0x14:], 0x02<<24|0x04<<16)
	binary.LittleEndian.PutUint32(b[0x40:], 0x00000000)
	binary.LittleEndian.PutUint32(b[0x44:], 0x07ff0001)
	binary.LittleEndian.PutUint32(b[0x48:], 0x00000fff)
	return b
}

func descriptorContext(t *testing.T) (*Context, *dummy.Programmer) {
	t.Helper()
	p := dummy.New(programmer.BusSPI, &programmer.W25Q64)
	p.LoadImage(testDescriptor(), 0)
	reg := programmer.NewRegistry()
	reg.Register(p)
	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	return ctx, p
}

func TestReadFromIFD(t *testing.T) {
	ctx, p := descriptorContext(t)
	l, err := ReadFromIFD(ctx, nil)
	if err != nil {
		t.Fatalf("ReadFromIFD failed: %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("Expected 2 regions, got %d", l.Count())
	}
	r, _ := l.Region(1)
	if r.Name != "bios" || r.Start != 0x1000 || r.End != 0x7fffff {
		t.Fatalf("Unexpected bios region: %+v", r)
	}
	if p.Locks != 1 || p.Unlocks != 1 {
		t.Fatalf("Exclusive access not bracketed: %d locks, %d unlocks", p.Locks, p.Unlocks)
	}
}

func TestReadFromIFDDeterministic(t *testing.T) {
	ctx, _ := descriptorContext(t)
	l1, err := ReadFromIFD(ctx, nil)
	if err != nil {
		t.Fatalf("First read failed: %v", err)
	}
	l2, err := ReadFromIFD(ctx, nil)
	if err != nil {
		t.Fatalf("Second read failed: %v", err)
	}
	if l1.Count() != l2.Count() {
		t.Fatalf("Region counts differ: %d != %d", l1.Count(), l2.Count())
	}
	for i := 0; i < l1.Count(); i++ {
		a, _ := l1.Region(i)
		b, _ := l2.Region(i)
		if a != b {
			t.Fatalf("Region %d differs: %+v != %+v", i, a, b)
		}
	}
}

func TestReadFromIFDWithMatchingDump(t *testing.T) {
	ctx, _ := descriptorContext(t)
	if _, err := ReadFromIFD(ctx, testDescriptor()); err != nil {
		t.Fatalf("Matching dump rejected: %v", err)
	}
}

func TestReadFromIFDMismatch(t *testing.T) {
	ctx, _ := descriptorContext(t)
	dump := testDescriptor()
	// One byte in a region entry differs; this must be the mismatch
	// outcome, never a parse failure.
	dump[0x44] ^= 0x01
	_, err := ReadFromIFD(ctx, dump)
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("Expected ErrDescriptorMismatch, got %v", err)
	}
}

func TestReadFromIFDDumpUnparsable(t *testing.T) {
	ctx, _ := descriptorContext(t)
	dump := testDescriptor()
	binary.LittleEndian.PutUint32(dump[0x10:], 0)
	_, err := ReadFromIFD(ctx, dump)
	if !errors.Is(err, ErrDumpUnparsable) {
		t.Fatalf("Expected ErrDumpUnparsable, got %v", err)
	}
}

func TestReadFromIFDChipUnparsable(t *testing.T) {
	p := dummy.New(programmer.BusSPI, &programmer.W25Q64)
	reg := programmer.NewRegistry()
	reg.Register(p)
	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	_, err = ReadFromIFD(ctx, nil)
	if !errors.Is(err, ErrDescriptorUnparsable) {
		t.Fatalf("Expected ErrDescriptorUnparsable, got %v", err)
	}
	if p.Locks != p.Unlocks {
		t.Fatalf("Access leaked on error path: %d locks, %d unlocks", p.Locks, p.Unlocks)
	}
}

// brokenProgrammer fails every chip read. Lock accounting mirrors the
// dummy so the bracketing can be checked on the failure path.
type brokenProgrammer struct {
	locks, unlocks int
}

func (b *brokenProgrammer) Name() string                 { return "broken" }
func (b *brokenProgrammer) Buses() programmer.Bus        { return programmer.BusSPI }
func (b *brokenProgrammer) Shutdown() error              { return nil }
func (b *brokenProgrammer) Lock() error                  { b.locks++; return nil }
func (b *brokenProgrammer) Unlock()                      { b.unlocks++ }
func (b *brokenProgrammer) Probe(start int) (int, *programmer.Chip) {
	if start > 0 {
		return -1, nil
	}
	return 0, &programmer.W25Q64
}

func (b *brokenProgrammer) ReadAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("simulated transfer abort")
}

func (b *brokenProgrammer) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("simulated transfer abort")
}

func TestReadFromIFDReadFailure(t *testing.T) {
	b := &brokenProgrammer{}
	reg := programmer.NewRegistry()
	reg.Register(b)
	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	_, err = ReadFromIFD(ctx, nil)
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Expected ErrReadFailed, got %v", err)
	}
	if b.locks != 1 || b.unlocks != 1 {
		t.Fatalf("Access not released after failed read: %d locks, %d unlocks", b.locks, b.unlocks)
	}
}
