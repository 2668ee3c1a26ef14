// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash binds one identified chip to one programmer and drives
// the operations that need that pairing: probing, layout population and
// image access. Write-protection handling lives in pkg/wp and operates on
// the Context defined here.
package flash

import (
	"github.com/u-root/flashkit/pkg/layout"
	"github.com/u-root/flashkit/pkg/logger"
	"github.com/u-root/flashkit/pkg/programmer"
)

var log = logger.LogContainer.GetSimpleLogger()

// Flag identifies one of the context's operational flags. The set is
// closed; there is no unknown-flag fallback.
type Flag int

const (
	// FlagForce overrides chip sanity checks.
	FlagForce Flag = iota
	// FlagForceBoardMismatch proceeds despite a board-enable mismatch.
	FlagForceBoardMismatch
	// FlagVerifyAfterWrite reads back written regions.
	FlagVerifyAfterWrite
	// FlagVerifyWholeChip verifies the full chip instead of only the
	// written regions.
	FlagVerifyWholeChip
)

type flags struct {
	force              bool
	forceBoardMismatch bool
	verifyAfterWrite   bool
	verifyWholeChip    bool
}

// Context is one identified, addressable chip bound to one programmer.
// Contexts come out of Probe and are not safe for concurrent use.
type Context struct {
	chip   *programmer.Chip
	mst    programmer.Programmer
	flags  flags
	layout *layout.Layout
}

// Chip returns the identified chip.
func (c *Context) Chip() *programmer.Chip {
	return c.chip
}

// Programmer returns the transport backing this context.
func (c *Context) Programmer() programmer.Programmer {
	return c.mst
}

// Size returns the chip size in bytes.
func (c *Context) Size() int64 {
	return c.chip.Size
}

// SetFlag sets one operational flag.
func (c *Context) SetFlag(f Flag, v bool) {
	switch f {
	case FlagForce:
		c.flags.force = v
	case FlagForceBoardMismatch:
		c.flags.forceBoardMismatch = v
	case FlagVerifyAfterWrite:
		c.flags.verifyAfterWrite = v
	case FlagVerifyWholeChip:
		c.flags.verifyWholeChip = v
	}
}

// Flag returns the current value of one operational flag.
func (c *Context) Flag(f Flag) bool {
	switch f {
	case FlagForce:
		return c.flags.force
	case FlagForceBoardMismatch:
		return c.flags.forceBoardMismatch
	case FlagVerifyAfterWrite:
		return c.flags.verifyAfterWrite
	case FlagVerifyWholeChip:
		return c.flags.verifyWholeChip
	}
	return false
}

// SetLayout attaches l to the context. The context borrows the layout:
// the caller keeps it alive for as long as the context is in use and must
// not mutate it concurrently.
func (c *Context) SetLayout(l *layout.Layout) {
	c.layout = l
}

// Layout returns the attached layout, or nil.
func (c *Context) Layout() *layout.Layout {
	return c.layout
}

// Release drops the context's references. It does not release the
// attached layout (the context never owned it) and does not shut down the
// programmer (the registry owns that).
func (c *Context) Release() {
	c.chip = nil
	c.mst = nil
	c.layout = nil
}

// lock acquires exclusive chip access when the programmer requires it.
// Every lock must be paired with unlock on all exit paths.
func (c *Context) lock() error {
	if l, ok := c.mst.(programmer.Locker); ok {
		return l.Lock()
	}
	return nil
}

func (c *Context) unlock() {
	if l, ok := c.mst.(programmer.Locker); ok {
		l.Unlock()
	}
}
