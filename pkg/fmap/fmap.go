// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fmap locates and decodes the flashmap ("__FMAP__") structure
// coreboot and friends embed in firmware images.
package fmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Signature delimits an fmap header inside an image.
	Signature = "__FMAP__"
	// NameLen is the fixed width of the non-terminated name fields.
	NameLen = 32

	verMajor = 1

	headerLen = 8 + 1 + 1 + 8 + 4 + NameLen + 2
	areaLen   = 4 + 4 + NameLen + 2
)

var ErrNotFound = errors.New("fmap: no fmap found")

// Area is one named region described by the fmap.
type Area struct {
	Offset uint32
	Size   uint32
	Name   string
	Flags  uint16
}

// FMap is a decoded flashmap.
type FMap struct {
	VerMajor uint8
	VerMinor uint8
	Base     uint64
	Size     uint32
	Name     string
	Areas    []Area
}

// fixedName bounds a fixed-width, not necessarily terminated name field.
func fixedName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// decodeAt parses an fmap whose signature sits at off within b.
func decodeAt(b []byte, off int) (*FMap, error) {
	b = b[off:]
	if len(b) < headerLen {
		return nil, fmt.Errorf("fmap: truncated header")
	}
	f := &FMap{
		VerMajor: b[8],
		VerMinor: b[9],
		Base:     binary.LittleEndian.Uint64(b[10:]),
		Size:     binary.LittleEndian.Uint32(b[18:]),
		Name:     fixedName(b[22 : 22+NameLen]),
	}
	if f.VerMajor != verMajor {
		return nil, fmt.Errorf("fmap: unsupported version %d.%d", f.VerMajor, f.VerMinor)
	}
	nareas := int(binary.LittleEndian.Uint16(b[22+NameLen:]))
	if len(b) < headerLen+nareas*areaLen {
		return nil, fmt.Errorf("fmap: truncated after %d of %d areas",
			(len(b)-headerLen)/areaLen, nareas)
	}
	for i := 0; i < nareas; i++ {
		ab := b[headerLen+i*areaLen:]
		f.Areas = append(f.Areas, Area{
			Offset: binary.LittleEndian.Uint32(ab),
			Size:   binary.LittleEndian.Uint32(ab[4:]),
			Name:   fixedName(ab[8 : 8+NameLen]),
			Flags:  binary.LittleEndian.Uint16(ab[8+NameLen:]),
		})
	}
	return f, nil
}

// Find returns the offset of the first plausible fmap signature in b, or
// -1. Large aligned strides are tried first since fmaps are normally
// placed on erase-block boundaries, with a byte-wise pass as the
// fallback.
func Find(b []byte) int {
	sig := []byte(Signature)
	for stride := nextPow2(len(b)) / 2; stride >= 16; stride /= 2 {
		for off := 0; off+headerLen <= len(b); off += stride {
			if off%(stride*2) == 0 && stride*2 < len(b) {
				// Already covered by a larger stride.
				continue
			}
			if bytes.Equal(b[off:off+8], sig) {
				return off
			}
		}
	}
	if i := bytes.Index(b, sig); i >= 0 && i+headerLen <= len(b) {
		return i
	}
	return -1
}

// Decode scans b for an fmap and parses it.
func Decode(b []byte) (*FMap, error) {
	off := Find(b)
	if off < 0 {
		return nil, ErrNotFound
	}
	return decodeAt(b, off)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
