// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"encoding/binary"
	"fmt"

	"github.com/u-root/flashkit/pkg/ifd"
	"github.com/u-root/flashkit/pkg/layout"
)

// ReadFromIFD reads the Intel flash descriptor off the chip and returns a
// fresh layout built from its regions. The returned layout is owned by
// the caller and independent of any shared layout.
//
// If dump is non-nil it is decoded as a reference descriptor and the two
// region tables must match word for word; a mismatch is reported as
// ErrDescriptorMismatch, distinct from either parse failure.
//
// The descriptor format is little-endian only; on other hosts this fails
// up front with ErrUnsupportedHost instead of risking misinterpretation.
func ReadFromIFD(ctx *Context, dump []byte) (*layout.Layout, error) {
	if NativeEndian() != binary.LittleEndian {
		return nil, ErrUnsupportedHost
	}

	if err := ctx.lock(); err != nil {
		return nil, fmt.Errorf("flash: cannot get exclusive chip access: %v", err)
	}
	defer ctx.unlock()

	log.Infof("Reading Intel flash descriptor")
	desc := make([]byte, ifd.BlockSize)
	if err := readFull(ctx, desc, 0); err != nil {
		log.Errorf("Descriptor read failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	chipLayout, err := ifd.Decode(desc)
	if err != nil {
		log.Errorf("Could not parse the chip's descriptor: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrDescriptorUnparsable, err)
	}

	if dump != nil {
		dumpLayout, err := ifd.Decode(dump)
		if err != nil {
			log.Errorf("Could not parse the descriptor dump: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrDumpUnparsable, err)
		}
		if !rawEqual(chipLayout, dumpLayout) {
			log.Errorf("Descriptors do not match")
			return nil, ErrDescriptorMismatch
		}
	}

	l := layout.New()
	for _, r := range chipLayout.Regions {
		if r.Limit >= uint64(ctx.Size()) {
			log.Errorf("Descriptor region %s ends beyond the chip", r.Name)
			return nil, fmt.Errorf("%w: region %s outside chip", ErrDescriptorUnparsable, r.Name)
		}
		if err := l.AddRegion(r.Base, r.Limit, r.Name); err != nil {
			return nil, err
		}
	}
	log.Infof("Descriptor yielded %d regions", l.Count())
	return l, nil
}

func rawEqual(a, b *ifd.Layout) bool {
	if len(a.Raw) != len(b.Raw) {
		return false
	}
	for i := range a.Raw {
		if a.Raw[i] != b.Raw[i] {
			return false
		}
	}
	return true
}

// readFull reads exactly len(b) bytes at off, turning short reads into
// errors.
func readFull(ctx *Context, b []byte, off int64) error {
	n, err := ctx.mst.ReadAt(b, off)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(b))
	}
	return nil
}
