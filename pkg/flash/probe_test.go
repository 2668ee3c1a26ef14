// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"errors"
	"testing"

	"github.com/u-root/flashkit/pkg/programmer"
	"github.com/u-root/flashkit/pkg/programmer/dummy"
)

func TestProbeSingleMatch(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64))

	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if ctx.Size() != programmer.W25Q64.Size {
		t.Fatalf("Expected size %d, got %d", programmer.W25Q64.Size, ctx.Size())
	}
	if ctx.Chip().Name != "W25Q64.V" {
		t.Fatalf("Unexpected chip %s", ctx.Chip())
	}
	ctx.Release()
}

func TestProbeNoMatch(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI))

	ctx, err := Probe(reg, "")
	if !errors.Is(err, ErrChipNotFound) {
		t.Fatalf("Expected ErrChipNotFound, got %v", err)
	}
	if ctx != nil {
		t.Fatalf("Context set on failed probe")
	}
}

func TestProbeAmbiguousOneTransport(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64, &programmer.W25Q128))

	ctx, err := Probe(reg, "")
	if !errors.Is(err, ErrChipAmbiguous) {
		t.Fatalf("Expected ErrChipAmbiguous, got %v", err)
	}
	if ctx != nil {
		t.Fatalf("Context set on ambiguous probe")
	}
}

func TestProbeAmbiguousAcrossTransports(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64))
	second := dummy.New(programmer.BusSPI, &programmer.W25Q64)
	reg.Register(second)

	ctx, err := Probe(reg, "")
	if !errors.Is(err, ErrChipAmbiguous) {
		t.Fatalf("Expected ErrChipAmbiguous, got %v", err)
	}
	if ctx != nil {
		t.Fatalf("Context set on ambiguous probe")
	}
	if second.Probes == 0 {
		t.Fatalf("Second transport was never scanned for extra matches")
	}
}

func TestProbeNameFilterDisambiguates(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64, &programmer.W25Q128))

	ctx, err := Probe(reg, "W25Q128.V")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if ctx.Chip().Name != "W25Q128.V" {
		t.Fatalf("Filter matched wrong chip %s", ctx.Chip())
	}
	ctx.Release()
}

func TestProbeNameFilterNoMatch(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64))

	if _, err := Probe(reg, "MX25L25635F"); !errors.Is(err, ErrChipNotFound) {
		t.Fatalf("Expected ErrChipNotFound, got %v", err)
	}
}

func TestFlags(t *testing.T) {
	reg := programmer.NewRegistry()
	reg.Register(dummy.New(programmer.BusSPI, &programmer.W25Q64))
	ctx, err := Probe(reg, "")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	defer ctx.Release()

	for _, f := range []Flag{FlagForce, FlagForceBoardMismatch, FlagVerifyAfterWrite, FlagVerifyWholeChip} {
		if ctx.Flag(f) {
			t.Fatalf("Flag %d set on fresh context", f)
		}
		ctx.SetFlag(f, true)
		if !ctx.Flag(f) {
			t.Fatalf("Flag %d did not stick", f)
		}
		ctx.SetFlag(f, false)
		if ctx.Flag(f) {
			t.Fatalf("Flag %d did not clear", f)
		}
	}
}
