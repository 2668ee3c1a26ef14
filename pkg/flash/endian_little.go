// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build 386 || amd64 || arm || arm64 || riscv64 || loong64 || wasm

package flash

import (
	"encoding/binary"
)

func NativeEndian() binary.ByteOrder {
	return binary.LittleEndian
}
