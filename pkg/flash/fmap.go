// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"encoding/binary"
	"fmt"

	"github.com/u-root/flashkit/pkg/fmap"
	"github.com/u-root/flashkit/pkg/layout"
)

// ReadFmapFromROM searches the chip's [offset, offset+length) window for
// an fmap and appends its areas to l. l is typically a layout shared
// across several population calls; it is the caller's, the function only
// appends. Areas arrive with Included cleared.
//
// The append is atomic per call: if adding this fmap's areas would
// overflow the layout, or any area is malformed, nothing is appended.
func ReadFmapFromROM(ctx *Context, l *layout.Layout, offset int64, length int64) error {
	if NativeEndian() != binary.LittleEndian {
		return ErrUnsupportedHost
	}
	if offset < 0 || length <= 0 || offset+length > ctx.Size() {
		return fmt.Errorf("flash: fmap window [%#x..%#x) outside chip", offset, offset+length)
	}

	if err := ctx.lock(); err != nil {
		return fmt.Errorf("flash: cannot get exclusive chip access: %v", err)
	}
	defer ctx.unlock()

	log.Debugf("Attempting to read fmap from ROM content")
	buf := make([]byte, length)
	if err := readFull(ctx, buf, offset); err != nil {
		log.Errorf("Failed to read fmap window from ROM: %v", err)
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	f, err := fmap.Decode(buf)
	if err != nil {
		log.Errorf("Failed to find fmap in ROM: %v", err)
		return fmt.Errorf("flash: %v", err)
	}
	return appendFmap(l, f, uint64(ctx.Size()))
}

// ReadFmapFromBuffer searches a caller-supplied buffer for an fmap and
// appends its areas to l, with the same atomicity as ReadFmapFromROM.
func ReadFmapFromBuffer(l *layout.Layout, buf []byte) error {
	if NativeEndian() != binary.LittleEndian {
		return ErrUnsupportedHost
	}
	if len(buf) == 0 {
		return fmt.Errorf("flash: empty fmap buffer")
	}

	log.Debugf("Attempting to read fmap from buffer")
	f, err := fmap.Decode(buf)
	if err != nil {
		log.Errorf("Failed to find fmap in buffer: %v", err)
		return fmt.Errorf("flash: %v", err)
	}
	return appendFmap(l, f, 0)
}

// appendFmap adds every fmap area to l as a non-included region. All
// validation happens before the first append so a failed call leaves l
// exactly as it was. chipSize of 0 skips the chip bounds check (buffer
// path, where no chip is involved).
func appendFmap(l *layout.Layout, f *fmap.FMap, chipSize uint64) error {
	if l == nil {
		return fmt.Errorf("flash: nil layout")
	}
	if l.Count()+len(f.Areas) > layout.MaxRegions {
		log.Errorf("Cannot add fmap entries to layout - too many entries")
		return layout.ErrTooManyRegions
	}
	seen := make(map[string]bool)
	for _, a := range f.Areas {
		if a.Name == "" || a.Size == 0 {
			return fmt.Errorf("%w: fmap area %q with size %d", layout.ErrBadRegion, a.Name, a.Size)
		}
		end := uint64(a.Offset) + uint64(a.Size) - 1
		if chipSize != 0 && end >= chipSize {
			return fmt.Errorf("%w: fmap area %q ends beyond the chip", layout.ErrBadRegion, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate fmap area %q", layout.ErrBadRegion, a.Name)
		}
		seen[a.Name] = true
		for _, r := range l.Regions() {
			if r.Name == a.Name {
				return fmt.Errorf("%w: fmap area %q already in layout", layout.ErrBadRegion, a.Name)
			}
		}
	}
	for _, a := range f.Areas {
		end := uint64(a.Offset) + uint64(a.Size) - 1
		if err := l.AddRegion(uint64(a.Offset), end, a.Name); err != nil {
			// Unreachable after the validation pass above.
			return err
		}
		log.Debugf("fmap %08x - %08x named %s", a.Offset, end, a.Name)
	}
	return nil
}
