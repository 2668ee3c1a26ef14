// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import "errors"

// Every operation in this package fails with one of a small closed set of
// outcomes. Callers classify with errors.Is; the wrapped detail is for
// humans only.
var (
	// Probe outcomes.
	ErrChipNotFound  = errors.New("flash: no supported chip found")
	ErrChipAmbiguous = errors.New("flash: multiple chips found")

	// Capability outcomes. These mean "this host or chip cannot do
	// this" and are never returned for transient failures.
	ErrUnsupportedHost = errors.New("flash: operation not supported on this host byte order")

	// Transport and parse outcomes for the layout population paths.
	ErrReadFailed           = errors.New("flash: chip read failed")
	ErrDescriptorUnparsable = errors.New("flash: descriptor on chip could not be parsed")
	ErrDumpUnparsable       = errors.New("flash: descriptor dump could not be parsed")
	ErrDescriptorMismatch   = errors.New("flash: chip and dump descriptors do not match")
)
