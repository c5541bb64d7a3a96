// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeRelocations re-packs rs's already re-targeted Relocs into a fresh
// buffer, the mirror image of loadRelocations in reloc_decode.go: debug/elf
// exposes no relocation encoder either, so this hand-encodes through the
// same elf.Rel32/Rel64/Rela32/Rela64 layouts using out's byte order.
func encodeRelocations(out *Graph, rs *Section) ([]byte, error) {
	order := out.Header.ByteOrder()
	class := out.Header.Class()
	buf := &bytes.Buffer{}

	for _, r := range rs.Relocs {
		sym := uint32(r.Symbol.Index)
		switch {
		case class == elf.ELFCLASS64 && rs.RelocIsRela:
			e := elf.Rela64{Off: r.Offset, Info: elf.R_INFO(sym, r.Type), Addend: r.Addend}
			if err := binary.Write(buf, order, &e); err != nil {
				return nil, err
			}
		case class == elf.ELFCLASS64 && !rs.RelocIsRela:
			e := elf.Rel64{Off: r.Offset, Info: elf.R_INFO(sym, r.Type)}
			if err := binary.Write(buf, order, &e); err != nil {
				return nil, err
			}
		case class == elf.ELFCLASS32 && rs.RelocIsRela:
			if r.Addend > math.MaxInt32 || r.Addend < math.MinInt32 {
				return nil, fmt.Errorf("section %s: addend %d overflows 32-bit object", rs.Name, r.Addend)
			}
			e := elf.Rela32{Off: uint32(r.Offset), Info: elf.R_INFO32(sym, r.Type), Addend: int32(r.Addend)}
			if err := binary.Write(buf, order, &e); err != nil {
				return nil, err
			}
		default: // ELFCLASS32, SHT_REL
			e := elf.Rel32{Off: uint32(r.Offset), Info: elf.R_INFO32(sym, r.Type)}
			if err := binary.Write(buf, order, &e); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}