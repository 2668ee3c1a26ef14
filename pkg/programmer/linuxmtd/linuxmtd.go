// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linuxmtd drives flash behind the Linux MTD subsystem. The
// kernel hides the signaling, so the driver declares the opaque bus
// class only; anything that needs raw SPI access (write protection in
// particular) is correctly reported as unsupported on this programmer.
package linuxmtd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/u-root/flashkit/pkg/logger"
	"github.com/u-root/flashkit/pkg/programmer"
	"golang.org/x/sys/unix"
)

var log = logger.LogContainer.GetSimpleLogger()

const (
	memGetInfo = 0x80204d01
	memErase   = 0x40084d02
)

type mtdInfoUser struct {
	Type uint8
	// C struct is not packed, so type is padded in 32 bit
	_         uint8
	_         uint8
	_         uint8
	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OobSize   uint32
	// Deprecated fields that are not part of the structure any longer
	_ uint32
	_ uint32
}

type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

// Programmer accesses one MTD character device.
type Programmer struct {
	f         *os.File
	chip      programmer.Chip
	eraseSize int64
}

func (p *Programmer) ioctl(req uint, arg []byte) error {
	argp := uintptr(unsafe.Pointer(&arg[0]))
	_, _, e := unix.Syscall(unix.SYS_IOCTL, p.f.Fd(), uintptr(req), argp)
	if e != 0 {
		return os.NewSyscallError("ioctl", e)
	}
	return nil
}

// Open opens an MTD device (e.g. /dev/mtd0) and sizes the synthetic chip
// from the kernel's geometry report.
func Open(path string) (*Programmer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0600)
	if err != nil {
		return nil, err
	}

	p := &Programmer{f: f}
	info := mtdInfoUser{}
	ib := make([]byte, unsafe.Sizeof(info))
	if err := p.ioctl(memGetInfo, ib); err != nil {
		f.Close()
		return nil, fmt.Errorf("linuxmtd: MEMGETINFO on %s: %v", path, err)
	}
	if err := binary.Read(bytes.NewReader(ib), binary.LittleEndian, &info); err != nil {
		f.Close()
		return nil, err
	}

	p.eraseSize = int64(info.EraseSize)
	p.chip = programmer.Chip{
		Vendor:     "Programmer",
		Name:       "Opaque flash chip",
		Size:       int64(info.Size),
		SectorSize: int(info.EraseSize),
		PageSize:   int(info.WriteSize),
	}
	log.Infof("MTD device %s: %d kB, erase size %d", path, info.Size/1024, info.EraseSize)
	return p, nil
}

func (p *Programmer) Name() string {
	return "linux_mtd"
}

func (p *Programmer) Buses() programmer.Bus {
	return programmer.BusProg
}

// Probe matches the single kernel-reported device.
func (p *Programmer) Probe(start int) (int, *programmer.Chip) {
	if start > 0 {
		return -1, nil
	}
	return 0, &p.chip
}

func (p *Programmer) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.f.ReadAt(b, off)
	programmer.CountRead(p.Name(), n)
	return n, err
}

// WriteAt erases the spanned erase blocks and writes b. off and len(b)
// must be erase-block aligned, the same restriction the raw driver has.
func (p *Programmer) WriteAt(b []byte, off int64) (int, error) {
	if off%p.eraseSize != 0 || int64(len(b))%p.eraseSize != 0 {
		return 0, fmt.Errorf("linuxmtd: write must be aligned to the %d byte erase size", p.eraseSize)
	}
	for i := off; i < off+int64(len(b)); i += p.eraseSize {
		ei := eraseInfoUser{Start: uint32(i), Length: uint32(p.eraseSize)}
		buf := new(bytes.Buffer)
		if err := binary.Write(buf, binary.LittleEndian, ei); err != nil {
			return 0, err
		}
		if err := p.ioctl(memErase, buf.Bytes()); err != nil {
			return 0, fmt.Errorf("linuxmtd: erase at %#x: %v", i, err)
		}
	}
	n, err := p.f.WriteAt(b, off)
	programmer.CountWrite(p.Name(), n)
	return n, err
}

func (p *Programmer) Shutdown() error {
	return p.f.Close()
}
