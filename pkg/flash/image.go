// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"fmt"

	"github.com/u-root/flashkit/pkg/layout"
)

// includedRegions returns the regions an image operation should touch:
// the attached layout's included regions, or the whole chip when no
// layout is attached or nothing is included.
func (c *Context) includedRegions() []layout.Region {
	whole := []layout.Region{{Start: 0, End: uint64(c.Size()) - 1, Name: "complete flash"}}
	if c.layout == nil {
		return whole
	}
	var rs []layout.Region
	for _, r := range c.layout.Regions() {
		if r.Included {
			rs = append(rs, r)
		}
	}
	if len(rs) == 0 {
		return whole
	}
	return rs
}

// checkRegions rejects regions reaching past the chip. Layouts are built
// chip-agnostic (manual layouts in particular), so the bounds check
// against the actual chip happens here, on first use.
func (c *Context) checkRegions(rs []layout.Region) error {
	for _, r := range rs {
		if r.End >= uint64(c.Size()) {
			return fmt.Errorf("%w: region %s ends beyond the chip", layout.ErrBadRegion, r.Name)
		}
	}
	return nil
}

// ReadImage fills buf from the chip. buf must be exactly chip-sized;
// with a layout attached, only the included regions are read and the rest
// of buf is left untouched.
func (c *Context) ReadImage(buf []byte) error {
	if int64(len(buf)) != c.Size() {
		return fmt.Errorf("flash: image size (%d B) doesn't match the flash chip's size (%d B)",
			len(buf), c.Size())
	}
	rs := c.includedRegions()
	if err := c.checkRegions(rs); err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return fmt.Errorf("flash: cannot get exclusive chip access: %v", err)
	}
	defer c.unlock()

	for _, r := range rs {
		log.Infof("Reading region %s (%#x..%#x)", r.Name, r.Start, r.End)
		if err := readFull(c, buf[r.Start:r.End+1], int64(r.Start)); err != nil {
			return fmt.Errorf("%w: region %s: %v", ErrReadFailed, r.Name, err)
		}
	}
	return nil
}

// VerifyImage reads back the included regions and compares them against
// buf, which must be exactly chip-sized.
func (c *Context) VerifyImage(buf []byte) error {
	if int64(len(buf)) != c.Size() {
		return fmt.Errorf("flash: image size (%d B) doesn't match the flash chip's size (%d B)",
			len(buf), c.Size())
	}
	rs := c.includedRegions()
	if err := c.checkRegions(rs); err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return fmt.Errorf("flash: cannot get exclusive chip access: %v", err)
	}
	defer c.unlock()

	for _, r := range rs {
		chip := make([]byte, r.End-r.Start+1)
		if err := readFull(c, chip, int64(r.Start)); err != nil {
			return fmt.Errorf("%w: region %s: %v", ErrReadFailed, r.Name, err)
		}
		if !bytes.Equal(chip, buf[r.Start:r.End+1]) {
			return fmt.Errorf("flash: verify failed in region %s", r.Name)
		}
	}
	return nil
}
