// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/machinebox/progress"
	"github.com/spf13/afero"
	"github.com/u-root/flashkit/pkg/flash"
	"github.com/u-root/flashkit/pkg/layout"
	"github.com/u-root/flashkit/pkg/logger"
	"github.com/u-root/flashkit/pkg/programmer"
	"github.com/u-root/flashkit/pkg/programmer/dummy"
	"github.com/u-root/flashkit/pkg/programmer/linuxmtd"
	"github.com/u-root/flashkit/pkg/programmer/serprog"
	"github.com/u-root/flashkit/pkg/wp"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
	fs  = afero.NewOsFs()

	prog       = flag.String("programmer", "dummy", "Programmer to use (dummy, linux_mtd, serprog)")
	device     = flag.String("device", "", "Device path (MTD device or serial port)")
	baud       = flag.Int("baud", 115200, "Baud rate for serprog")
	chipName   = flag.String("chip", "", "Probe only for the named chip")
	wpStatus   = flag.Bool("wp-status", false, "Print the write-protection state")
	wpList     = flag.Bool("wp-list", false, "List the protectable ranges")
	wpRange    = flag.String("wp-range", "", "Protection range to configure as start,len")
	wpEnable   = flag.Bool("wp-enable", false, "Enable hardware write protection")
	wpDisable  = flag.Bool("wp-disable", false, "Disable write protection")
	useIfd     = flag.Bool("ifd", false, "Derive the layout from the Intel flash descriptor")
	ifdDump    = flag.String("ifd-dump", "", "Reference descriptor dump to compare against")
	useFmap    = flag.Bool("fmap", false, "Derive the layout from the chip's fmap")
	layoutFile = flag.String("layout", "", "Read a manual layout from the named file")
	include    = flag.String("include", "", "Comma separated region names to include")
	readFile   = flag.String("read", "", "Read the flash contents into the named file")
)

func openProgrammer() (programmer.Programmer, error) {
	switch *prog {
	case "dummy":
		return dummy.New(programmer.BusSPI, &programmer.W25Q128), nil
	case "linux_mtd":
		if *device == "" {
			return nil, fmt.Errorf("linux_mtd needs -device /dev/mtdN")
		}
		return linuxmtd.Open(*device)
	case "serprog":
		if *device == "" {
			return nil, fmt.Errorf("serprog needs -device")
		}
		return serprog.Open(*device, *baud)
	}
	return nil, fmt.Errorf("unknown programmer %q", *prog)
}

// parseLayout reads a manual layout description: one region per line as
// start:end name, bounds in hex with end inclusive. Blank lines and lines
// starting with # are skipped.
func parseLayout(b []byte) (*layout.Layout, error) {
	l := layout.New()
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		bounds := strings.SplitN(fields[0], ":", 2)
		if len(fields) != 2 || len(bounds) != 2 {
			return nil, fmt.Errorf("layout line %d: want start:end name, got %q", i+1, line)
		}
		start, err := strconv.ParseUint(strings.TrimPrefix(bounds[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("layout line %d: %v", i+1, err)
		}
		end, err := strconv.ParseUint(strings.TrimPrefix(bounds[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("layout line %d: %v", i+1, err)
		}
		if err := l.AddRegion(start, end, fields[1]); err != nil {
			return nil, fmt.Errorf("layout line %d: %v", i+1, err)
		}
	}
	return l, nil
}

func buildLayout(ctx *flash.Context) (*layout.Layout, error) {
	if *layoutFile != "" {
		b, err := afero.ReadFile(fs, *layoutFile)
		if err != nil {
			return nil, err
		}
		return parseLayout(b)
	}
	if *useIfd {
		var dump []byte
		if *ifdDump != "" {
			d, err := afero.ReadFile(fs, *ifdDump)
			if err != nil {
				return nil, err
			}
			dump = d
		}
		return flash.ReadFromIFD(ctx, dump)
	}
	l := layout.New()
	if err := flash.ReadFmapFromROM(ctx, l, 0, ctx.Size()); err != nil {
		return nil, err
	}
	return l, nil
}

func printWP(ctx *flash.Context) error {
	cfg, err := wp.ReadCfg(ctx)
	if err != nil {
		return err
	}
	start, length := cfg.Range()
	fmt.Printf("Protection mode: %v\n", cfg.Mode())
	fmt.Printf("Protection range: start=%#08x length=%#08x\n", start, length)
	return nil
}

func listWPRanges(ctx *flash.Context) error {
	list, err := wp.AvailableRanges(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < list.Count(); i++ {
		r, err := list.Range(i)
		if err != nil {
			return err
		}
		fmt.Printf("start=%#08x length=%#08x\n", r.Start, r.Len)
	}
	return nil
}

func configureWP(ctx *flash.Context) error {
	cfg := wp.NewCfg()
	if *wpEnable {
		cfg.SetMode(wp.ModeHardware)
	}
	if *wpRange != "" {
		parts := strings.SplitN(*wpRange, ",", 2)
		if len(parts) != 2 {
			return fmt.Errorf("-wp-range wants start,len")
		}
		start, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 64)
		if err != nil {
			return err
		}
		length, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 64)
		if err != nil {
			return err
		}
		cfg.SetRange(start, length)
	}
	return wp.WriteCfg(ctx, cfg)
}

func readChip(ctx *flash.Context, path string) error {
	buf := make([]byte, ctx.Size())
	if err := ctx.ReadImage(buf); err != nil {
		return err
	}

	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := progress.NewWriter(f)
	pctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for p := range progress.NewTicker(pctx, w, ctx.Size(), time.Second) {
			log.Infof("Writing %s: %.1f%%", path, p.Percent())
		}
	}()
	_, err = io.Copy(w, bytes.NewReader(buf))
	return err
}

func run() error {
	p, err := openProgrammer()
	if err != nil {
		return err
	}
	reg := programmer.NewRegistry()
	reg.Register(p)
	defer func() {
		if err := reg.Shutdown(); err != nil {
			log.Errorf("Programmer shutdown: %v", err)
		}
	}()

	ctx, err := flash.Probe(reg, *chipName)
	if err != nil {
		return err
	}
	defer ctx.Release()
	fmt.Printf("Found %s (%d kB)\n", ctx.Chip(), ctx.Size()/1024)

	if *useIfd || *useFmap || *layoutFile != "" {
		l, err := buildLayout(ctx)
		if err != nil {
			return err
		}
		for _, r := range l.Regions() {
			fmt.Printf("%#08x:%#08x %s\n", r.Start, r.End, r.Name)
		}
		if *include != "" {
			for _, name := range strings.Split(*include, ",") {
				if err := l.IncludeRegion(strings.TrimSpace(name)); err != nil {
					return err
				}
			}
		}
		ctx.SetLayout(l)
	}

	if *wpStatus {
		if err := printWP(ctx); err != nil {
			return err
		}
	}
	if *wpList {
		if err := listWPRanges(ctx); err != nil {
			return err
		}
	}
	if *wpEnable || *wpDisable || *wpRange != "" {
		if err := configureWP(ctx); err != nil {
			return err
		}
	}
	if *readFile != "" {
		if err := readChip(ctx, *readFile); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}
