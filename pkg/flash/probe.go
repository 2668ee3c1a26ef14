// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"github.com/u-root/flashkit/pkg/programmer"
)

// Probe identifies exactly one chip across every programmer in the
// registry. chipName restricts the search to a single chip model; the
// empty string matches all known chips.
//
// A match on one programmer does not end the search: the remaining
// programmers (and the remaining probe indices of the matching one) are
// still scanned far enough to rule out a second match, since uniqueness
// must hold across the whole registry. Exactly one match returns a
// Context owned by the caller; zero matches returns ErrChipNotFound and
// two or more return ErrChipAmbiguous.
func Probe(reg *programmer.Registry, chipName string) (*Context, error) {
	var ctx *Context
	for _, m := range reg.Masters() {
		programmer.CountProbe(m.Name())
		idx := -1
		if ctx == nil {
			var chip *programmer.Chip
			idx, chip = probeMaster(m, chipName, 0)
			if idx >= 0 {
				log.Infof("Found %s (%d kB) on %s", chip, chip.Size/1024, m.Name())
				ctx = &Context{chip: chip, mst: m}
			}
		}
		if ctx == nil {
			continue
		}
		// One chip found; check this programmer for a second
		// equally valid match, one index past the first.
		if i, chip := probeMaster(m, chipName, idx+1); i >= 0 {
			log.Warnf("Also found %s on %s, cannot disambiguate", chip, m.Name())
			ctx.Release()
			return nil, ErrChipAmbiguous
		}
	}
	if ctx == nil {
		log.Infof("No supported flash chip found")
		return nil, ErrChipNotFound
	}
	return ctx, nil
}

// probeMaster walks m's probe indices starting at start and returns the
// first match passing the name filter.
func probeMaster(m programmer.Programmer, chipName string, start int) (int, *programmer.Chip) {
	for {
		idx, chip := m.Probe(start)
		if idx < 0 || chip == nil {
			return -1, nil
		}
		if chipName == "" || chip.Name == chipName {
			return idx, chip
		}
		log.Debugf("Skipping %s at index %d (want %q)", chip, idx, chipName)
		start = idx + 1
	}
}
