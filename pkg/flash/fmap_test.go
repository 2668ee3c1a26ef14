// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/u-root/flashkit/pkg/layout"
	"github.com/u-root/flashkit/pkg/programmer"
	"github.com/u-root/flashkit/pkg/programmer/dummy"
)

type testArea struct {
	offset uint32
	size   uint32
	name   string
}

func fmapImage(name string, areas ...testArea) []byte {
	b := make([]byte, 56+42*len(areas))
	copy(b, "__FMAP__")
	b[8] = 1
	binary.LittleEndian.PutUint32(b[18:], uint32(len(b)))
	copy(b[22:54], name)
	binary.LittleEndian.PutUint16(b[54:], uint16(len(areas)))
	for i, a := range areas {
		off := 56 + 42*i
		binary.LittleEndian.PutUint32(b[off:], a.offset)
		binary.LittleEndian.PutUint32(b[off+4:], a.size)
		copy(b[off+8:off+40], a.name)
		binary.LittleEndian.PutUint16(b[off+40:], 0)
	}
	return b
}

func fmapContext(t *testing.T, img []byte, at int64) (*Context, *dummy.Programmer) {
	t.Helper()
	p := dummy.New(programmer.BusSPI, &programmer.W25Q64)
	p.LoadImage(img, at)
	reg := programmer.NewRegistry()
	reg.Register(p)
	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	return ctx, p
}

func TestReadFmapFromROM(t *testing.T) {
	img := fmapImage("FLASH",
		testArea{offset: 0, size: 0x1000, name: "BOOT"},
		testArea{offset: 0x1000, size: 0x2000, name: "RW_A"})
	ctx, p := fmapContext(t, img, 0x100000)

	l := layout.New()
	if err := ReadFmapFromROM(ctx, l, 0x100000, 0x1000); err != nil {
		t.Fatalf("ReadFmapFromROM failed: %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("Expected 2 regions, got %d", l.Count())
	}
	r, _ := l.Region(1)
	if r.Name != "RW_A" || r.Start != 0x1000 || r.End != 0x2fff {
		t.Fatalf("Unexpected region: %+v", r)
	}
	if r.Included {
		t.Fatalf("fmap region arrived included")
	}
	if p.Locks != 1 || p.Unlocks != 1 {
		t.Fatalf("Exclusive access not bracketed: %d locks, %d unlocks", p.Locks, p.Unlocks)
	}
}

func TestReadFmapFromROMAppendsToShared(t *testing.T) {
	img := fmapImage("FLASH", testArea{offset: 0, size: 0x1000, name: "BOOT"})
	ctx, _ := fmapContext(t, img, 0)

	l := layout.New()
	if err := l.AddRegion(0x700000, 0x70ffff, "manual"); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}
	if err := ReadFmapFromROM(ctx, l, 0, 0x1000); err != nil {
		t.Fatalf("ReadFmapFromROM failed: %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("fmap did not append to the shared layout: %d regions", l.Count())
	}
}

func TestReadFmapFromROMOverflowIsAtomic(t *testing.T) {
	img := fmapImage("FLASH",
		testArea{offset: 0, size: 0x1000, name: "A"},
		testArea{offset: 0x1000, size: 0x1000, name: "B"})
	ctx, _ := fmapContext(t, img, 0)

	l := layout.New()
	for i := 0; i < layout.MaxRegions-1; i++ {
		if err := l.AddRegion(uint64(i)*0x100, uint64(i)*0x100+0xff, fmt.Sprintf("r%d", i)); err != nil {
			t.Fatalf("AddRegion %d failed: %v", i, err)
		}
	}
	before := l.Count()
	err := ReadFmapFromROM(ctx, l, 0, 0x1000)
	if !errors.Is(err, layout.ErrTooManyRegions) {
		t.Fatalf("Expected ErrTooManyRegions, got %v", err)
	}
	if l.Count() != before {
		t.Fatalf("Partial append on overflow: %d -> %d regions", before, l.Count())
	}
}

func TestReadFmapFromROMBadAreaIsAtomic(t *testing.T) {
	img := fmapImage("FLASH",
		testArea{offset: 0, size: 0x1000, name: "GOOD"},
		testArea{offset: 0x1000, size: 0, name: "EMPTY"})
	ctx, _ := fmapContext(t, img, 0)

	l := layout.New()
	if err := ReadFmapFromROM(ctx, l, 0, 0x1000); err == nil {
		t.Fatalf("Zero-size area accepted")
	}
	if l.Count() != 0 {
		t.Fatalf("Partial append on malformed fmap: %d regions", l.Count())
	}
}

func TestReadFmapFromROMWindowOutsideChip(t *testing.T) {
	ctx, _ := fmapContext(t, fmapImage("FLASH"), 0)
	l := layout.New()
	if err := ReadFmapFromROM(ctx, l, ctx.Size()-0x100, 0x1000); err == nil {
		t.Fatalf("Window beyond chip end accepted")
	}
}

func TestReadFmapFromBuffer(t *testing.T) {
	// The fmap does not have to sit at the buffer start.
	img := append(make([]byte, 0x234), fmapImage("FLASH",
		testArea{offset: 0x10000, size: 0x10000, name: "RO"})...)

	l := layout.New()
	if err := ReadFmapFromBuffer(l, img); err != nil {
		t.Fatalf("ReadFmapFromBuffer failed: %v", err)
	}
	if l.Count() != 1 {
		t.Fatalf("Expected 1 region, got %d", l.Count())
	}
	r, _ := l.Region(0)
	if r.Name != "RO" || r.Start != 0x10000 || r.End != 0x1ffff {
		t.Fatalf("Unexpected region: %+v", r)
	}
}

func TestReadFmapFromBufferNoFmap(t *testing.T) {
	l := layout.New()
	if err := ReadFmapFromBuffer(l, make([]byte, 0x1000)); err == nil {
		t.Fatalf("Buffer without fmap accepted")
	}
	if err := ReadFmapFromBuffer(l, nil); err == nil {
		t.Fatalf("Empty buffer accepted")
	}
}
