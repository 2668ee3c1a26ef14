// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package serprog drives a serial-attached flash programmer speaking the
// serprog frame protocol: one command byte, little-endian parameters, an
// ACK or NAK, then any response payload. Retry of the port open and the
// initial sync is this driver's business; the layers above never retry.
package serprog

import (
	"fmt"
	"io"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tarm/serial"
	"github.com/u-root/flashkit/pkg/logger"
	"github.com/u-root/flashkit/pkg/programmer"
)

var log = logger.LogContainer.GetSimpleLogger()

const (
	respACK = 0x06
	respNAK = 0x15

	cmdNop      = 0x00
	cmdQIface   = 0x01
	cmdQPgmName = 0x03
	cmdQBusType = 0x05
	cmdSyncNop  = 0x10
	cmdSpiOp    = 0x13

	ifaceVersion = 1

	// Bus bits in the Q_BUSTYPE response.
	busBitParallel = 0x01
	busBitLPC      = 0x02
	busBitFWH      = 0x04
	busBitSPI      = 0x08
)

// SPI opcodes issued through S_CMD_O_SPIOP.
const (
	opWREN         = 0x06
	opReadStatus   = 0x05
	opReadStatus2  = 0x35
	opWriteStatus  = 0x01
	opWriteStatus2 = 0x31
	opRead         = 0x03
	opRead4B       = 0x13
	opPageProgram  = 0x02
	opPageProg4B   = 0x12
	opBlockErase   = 0xd8
	opBlockErase4B = 0xdc
	opEN4B         = 0xb7
	opRDID         = 0x9f

	pageSize  = 256
	blockSize = 64 * 1024
	maxChunk  = 4096

	srBusy = 1 << 0
)

// Programmer is one serprog device.
type Programmer struct {
	port     io.ReadWriteCloser
	pgmName  string
	buses    programmer.Bus
	fourByte bool
}

// Open connects to a serprog device and performs the protocol handshake.
// Opening and syncing are retried with exponential backoff since many
// boards reset when the port is opened.
func Open(device string, baud int) (*Programmer, error) {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
	}
	var port *serial.Port
	var err error
	for i := 0; i < 5; i++ {
		port, err = serial.OpenPort(&serial.Config{Name: device, Baud: baud})
		if err == nil {
			break
		}
		d := b.Duration()
		log.Debugf("Opening %s failed (%v), retrying in %v", device, err, d)
		time.Sleep(d)
	}
	if err != nil {
		return nil, fmt.Errorf("serprog: opening %s: %v", device, err)
	}

	p := &Programmer{port: port}
	if err := p.handshake(); err != nil {
		port.Close()
		return nil, err
	}
	log.Infof("serprog: %s on %s (buses: %s)", p.pgmName, device, p.buses)
	return p, nil
}

func (p *Programmer) handshake() error {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
	}
	var err error
	for i := 0; i < 8; i++ {
		if err = p.sync(); err == nil {
			break
		}
		time.Sleep(b.Duration())
	}
	if err != nil {
		return fmt.Errorf("serprog: no sync: %v", err)
	}

	v, err := p.cmd(cmdQIface, nil, 2)
	if err != nil {
		return fmt.Errorf("serprog: interface query: %v", err)
	}
	if ver := int(v[0]) | int(v[1])<<8; ver != ifaceVersion {
		return fmt.Errorf("serprog: unsupported interface version %d", ver)
	}

	bt, err := p.cmd(cmdQBusType, nil, 1)
	if err != nil {
		return fmt.Errorf("serprog: bus type query: %v", err)
	}
	if bt[0]&busBitParallel != 0 {
		p.buses |= programmer.BusParallel
	}
	if bt[0]&busBitLPC != 0 {
		p.buses |= programmer.BusLPC
	}
	if bt[0]&busBitFWH != 0 {
		p.buses |= programmer.BusFWH
	}
	if bt[0]&busBitSPI != 0 {
		p.buses |= programmer.BusSPI
	}

	name, err := p.cmd(cmdQPgmName, nil, 16)
	if err != nil {
		return fmt.Errorf("serprog: name query: %v", err)
	}
	p.pgmName = trimNul(name)
	return nil
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// sync sends SYNCNOP and expects the characteristic NAK+ACK pair.
func (p *Programmer) sync() error {
	if _, err := p.port.Write([]byte{cmdSyncNop}); err != nil {
		return err
	}
	r := make([]byte, 2)
	if _, err := io.ReadFull(p.port, r); err != nil {
		return err
	}
	if r[0] != respNAK || r[1] != respACK {
		return fmt.Errorf("unexpected sync response %#02x %#02x", r[0], r[1])
	}
	return nil
}

// cmd sends one framed command and reads rlen response bytes after the
// ACK.
func (p *Programmer) cmd(op byte, params []byte, rlen int) ([]byte, error) {
	if _, err := p.port.Write(append([]byte{op}, params...)); err != nil {
		return nil, err
	}
	st := make([]byte, 1)
	if _, err := io.ReadFull(p.port, st); err != nil {
		return nil, err
	}
	if st[0] == respNAK {
		return nil, fmt.Errorf("command %#02x refused", op)
	}
	if st[0] != respACK {
		return nil, fmt.Errorf("command %#02x: garbage status %#02x", op, st[0])
	}
	if rlen == 0 {
		return nil, nil
	}
	r := make([]byte, rlen)
	if _, err := io.ReadFull(p.port, r); err != nil {
		return nil, err
	}
	return r, nil
}

// spiOp runs one SPI transaction: send sbytes, then clock out rlen bytes.
func (p *Programmer) spiOp(sbytes []byte, rlen int) ([]byte, error) {
	params := []byte{
		byte(len(sbytes)), byte(len(sbytes) >> 8), byte(len(sbytes) >> 16),
		byte(rlen), byte(rlen >> 8), byte(rlen >> 16),
	}
	return p.cmd(cmdSpiOp, append(params, sbytes...), rlen)
}

func (p *Programmer) Name() string {
	return "serprog"
}

func (p *Programmer) Buses() programmer.Bus {
	return p.buses
}

// Probe reads the JEDEC id and looks it up in the shared chip table,
// starting at the given index.
func (p *Programmer) Probe(start int) (int, *programmer.Chip) {
	id, err := p.spiOp([]byte{opRDID}, 3)
	if err != nil {
		log.Debugf("RDID failed: %v", err)
		return -1, nil
	}
	jedec := uint32(id[0]) | uint32(id[1])<<8 | uint32(id[2])<<16
	log.Debugf("JEDEC id %#06x", jedec)
	return programmer.ChipByID(jedec, start)
}

// ensure4b switches the chip into 4-byte address mode once.
func (p *Programmer) ensure4b() error {
	if p.fourByte {
		return nil
	}
	if _, err := p.spiOp([]byte{opEN4B}, 0); err != nil {
		return err
	}
	p.fourByte = true
	return nil
}

func addr3(op byte, off int64) []byte {
	return []byte{op, byte(off >> 16), byte(off >> 8), byte(off)}
}

func addr4(op byte, off int64) []byte {
	return []byte{op, byte(off >> 24), byte(off >> 16), byte(off >> 8), byte(off)}
}

func (p *Programmer) ReadAt(b []byte, off int64) (int, error) {
	wide := off+int64(len(b)) > 1<<24
	if wide {
		if err := p.ensure4b(); err != nil {
			return 0, err
		}
	}
	total := 0
	for total < len(b) {
		n := len(b) - total
		if n > maxChunk {
			n = maxChunk
		}
		var cmd []byte
		if wide {
			cmd = addr4(opRead4B, off+int64(total))
		} else {
			cmd = addr3(opRead, off+int64(total))
		}
		r, err := p.spiOp(cmd, n)
		if err != nil {
			return total, err
		}
		copy(b[total:], r)
		total += n
	}
	programmer.CountRead(p.Name(), total)
	return total, nil
}

func (p *Programmer) waitReady() error {
	for i := 0; i < 1000; i++ {
		sr, err := p.ReadStatus(1)
		if err != nil {
			return err
		}
		if sr&srBusy == 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("chip stuck busy")
}

func (p *Programmer) eraseBlock(off int64, wide bool) error {
	if _, err := p.spiOp([]byte{opWREN}, 0); err != nil {
		return err
	}
	cmd := addr3(opBlockErase, off)
	if wide {
		cmd = addr4(opBlockErase4B, off)
	}
	if _, err := p.spiOp(cmd, 0); err != nil {
		return err
	}
	return p.waitReady()
}

func (p *Programmer) programPage(off int64, d []byte, wide bool) error {
	if _, err := p.spiOp([]byte{opWREN}, 0); err != nil {
		return err
	}
	cmd := addr3(opPageProgram, off)
	if wide {
		cmd = addr4(opPageProg4B, off)
	}
	if _, err := p.spiOp(append(cmd, d...), 0); err != nil {
		return err
	}
	return p.waitReady()
}

// WriteAt erases the spanned 64 KiB blocks and programs b page by page.
// off and len(b) must be block aligned.
func (p *Programmer) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off%blockSize != 0 || len(b)%blockSize != 0 {
		return 0, fmt.Errorf("serprog: write must be aligned to %d byte blocks", blockSize)
	}
	wide := off+int64(len(b)) > 1<<24
	if wide {
		if err := p.ensure4b(); err != nil {
			return 0, err
		}
	}

	for i := off; i < off+int64(len(b)); i += blockSize {
		if err := p.eraseBlock(i, wide); err != nil {
			return 0, fmt.Errorf("serprog: erase at %#x: %v", i, err)
		}
	}
	for i := 0; i < len(b); i += pageSize {
		if err := p.programPage(off+int64(i), b[i:i+pageSize], wide); err != nil {
			return i, fmt.Errorf("serprog: program at %#x: %v", off+int64(i), err)
		}
	}
	programmer.CountWrite(p.Name(), len(b))
	return len(b), nil
}

func (p *Programmer) ReadStatus(reg int) (uint8, error) {
	var op byte
	switch reg {
	case 1:
		op = opReadStatus
	case 2:
		op = opReadStatus2
	default:
		return 0, fmt.Errorf("serprog: no status register %d", reg)
	}
	r, err := p.spiOp([]byte{op}, 1)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

func (p *Programmer) WriteStatus(reg int, v uint8) error {
	var op byte
	switch reg {
	case 1:
		op = opWriteStatus
	case 2:
		op = opWriteStatus2
	default:
		return fmt.Errorf("serprog: no status register %d", reg)
	}
	if _, err := p.spiOp([]byte{opWREN}, 0); err != nil {
		return err
	}
	if _, err := p.spiOp([]byte{op, v}, 0); err != nil {
		return err
	}
	return p.waitReady()
}

func (p *Programmer) Shutdown() error {
	return p.port.Close()
}
