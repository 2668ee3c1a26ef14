// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout holds named address regions over a flash chip's address
// space. A Layout never owns the chip it describes; contexts borrow
// layouts and the caller keeps them alive for as long as any context
// references them.
package layout

import (
	"errors"
	"fmt"
)

// MaxRegions bounds the number of regions in a single layout.
const MaxRegions = 128

var (
	ErrTooManyRegions = errors.New("layout: too many regions")
	ErrBadRegion      = errors.New("layout: malformed region")
	ErrUnknownRegion  = errors.New("layout: no such region")
)

// Region is one named sub-range of the chip. End is inclusive.
type Region struct {
	Start    uint64
	End      uint64
	Name     string
	Included bool
}

// Layout is an ordered region collection. The zero value is usable and
// empty. Layouts are not safe for concurrent mutation; callers serialize.
type Layout struct {
	regions []Region
}

func New() *Layout {
	return &Layout{}
}

// AddRegion appends a region. Bounds against the chip size are checked
// where the chip is known (the population paths in pkg/flash); here only
// the structural invariants hold: start <= end, non-empty name, unique
// name, capacity. A rejected region leaves the layout untouched.
func (l *Layout) AddRegion(start, end uint64, name string) error {
	if name == "" || start > end {
		return fmt.Errorf("%w: [%#x..%#x] %q", ErrBadRegion, start, end, name)
	}
	for _, r := range l.regions {
		if r.Name == name {
			return fmt.Errorf("%w: duplicate name %q", ErrBadRegion, name)
		}
	}
	if len(l.regions) >= MaxRegions {
		return ErrTooManyRegions
	}
	l.regions = append(l.regions, Region{Start: start, End: end, Name: name})
	return nil
}

// IncludeRegion marks the named region for subsequent operations.
func (l *Layout) IncludeRegion(name string) error {
	for i := range l.regions {
		if l.regions[i].Name == name {
			l.regions[i].Included = true
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRegion, name)
}

// ExcludeAll clears the included mark on every region.
func (l *Layout) ExcludeAll() {
	for i := range l.regions {
		l.regions[i].Included = false
	}
}

// Count returns the number of regions.
func (l *Layout) Count() int {
	return len(l.regions)
}

// Region returns the i-th region in append order.
func (l *Layout) Region(i int) (Region, error) {
	if i < 0 || i >= len(l.regions) {
		return Region{}, fmt.Errorf("layout: index %d out of range", i)
	}
	return l.regions[i], nil
}

// Regions returns the regions in append order. The slice aliases the
// layout's storage and must not be modified.
func (l *Layout) Regions() []Region {
	return l.regions
}
