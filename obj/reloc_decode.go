// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// loadRelocations decodes every relocation section's entries. debug/elf
// does not expose a public decoder for SHT_REL/SHT_RELA sections in
// relocatable objects (its own relocation support is limited to applying
// DWARF relocations internally), so this follows the same manual
// decode-by-class approach go-obj's elfReloc.go uses: read the raw
// section bytes and unmarshal them as elf.Rel32/Rel64/Rela32/Rela64
// through the file's declared byte order.
func loadRelocations(g *Graph, ef *elf.File, bySHNum []*Section, relocSections []*Section) error {
	order := g.Header.ByteOrder()
	class := g.Header.Class()

	for _, rs := range relocSections {
		r := bytes.NewReader(rs.Data)
		entSize := relocEntrySize(class, rs.RelocIsRela)
		n := len(rs.Data) / entSize
		rs.Relocs = make([]*Relocation, 0, n)

		for i := 0; i < n; i++ {
			var sym, typ uint32
			var offset uint64
			var addend int64
			var haveAddend bool

			switch {
			case class == elf.ELFCLASS64 && rs.RelocIsRela:
				var e elf.Rela64
				if err := binary.Read(r, order, &e); err != nil {
					return fmt.Errorf("section %s: %w", rs.Name, err)
				}
				offset, sym, typ, addend, haveAddend = e.Off, uint32(elf.R_SYM64(e.Info)), uint32(elf.R_TYPE64(e.Info)), e.Addend, true
			case class == elf.ELFCLASS64 && !rs.RelocIsRela:
				var e elf.Rel64
				if err := binary.Read(r, order, &e); err != nil {
					return fmt.Errorf("section %s: %w", rs.Name, err)
				}
				offset, sym, typ = e.Off, uint32(elf.R_SYM64(e.Info)), uint32(elf.R_TYPE64(e.Info))
			case class == elf.ELFCLASS32 && rs.RelocIsRela:
				var e elf.Rela32
				if err := binary.Read(r, order, &e); err != nil {
					return fmt.Errorf("section %s: %w", rs.Name, err)
				}
				offset, sym, typ, addend, haveAddend = uint64(e.Off), elf.R_SYM32(e.Info), elf.R_TYPE32(e.Info), int64(e.Addend), true
			default: // ELFCLASS32, SHT_REL
				var e elf.Rel32
				if err := binary.Read(r, order, &e); err != nil {
					return fmt.Errorf("section %s: %w", rs.Name, err)
				}
				offset, sym, typ = uint64(e.Off), elf.R_SYM32(e.Info), elf.R_TYPE32(e.Info)
			}

			if !haveAddend {
				addend = implicitAddend(rs.Base, offset, class, order)
			}

			if int(sym) >= len(g.Symbols) {
				return fmt.Errorf("section %s: relocation references out-of-range symbol %d", rs.Name, sym)
			}

			rel := &Relocation{
				Type:    typ,
				Offset:  offset,
				Addend:  addend,
				Symbol:  g.Symbols[sym],
				Section: rs,
				Twin:    NoRef,
			}
			if rel.Symbol.Section != nil && rel.Symbol.Section.IsStringTable() {
				rel.StringLiteral = stringLiteralAt(rel.Symbol.Section.Data, uint64(rel.Addend))
			}
			rs.Relocs = append(rs.Relocs, rel)
		}
	}
	return nil
}

func relocEntrySize(class elf.Class, rela bool) int {
	switch {
	case class == elf.ELFCLASS64 && rela:
		return 24
	case class == elf.ELFCLASS64:
		return 16
	case rela:
		return 12
	default:
		return 8
	}
}

// implicitAddend reads the addend stored in the target section's own
// bytes at offset, as SHT_REL-style relocations (32-bit x86 being the
// only common case) require. Kernel object files built for the
// architectures this tool targets (x86-64, arm64) use SHT_RELA
// exclusively, so this path is a documented fallback rather than a
// heavily exercised one: it always reads a word the width of the file's
// class, which matches the one REL-using architecture in broad use.
func implicitAddend(base *Section, offset uint64, class elf.Class, order binary.ByteOrder) int64 {
	if base == nil {
		return 0
	}
	width := 4
	if class == elf.ELFCLASS64 {
		width = 8
	}
	if offset+uint64(width) > uint64(len(base.Data)) {
		return 0
	}
	switch width {
	case 8:
		return int64(order.Uint64(base.Data[offset:]))
	default:
		return int64(int32(order.Uint32(base.Data[offset:])))
	}
}

// stringLiteralAt returns the NUL-terminated byte run starting at off
// within data, or nil if off is out of range.
func stringLiteralAt(data []byte, off uint64) []byte {
	if off >= uint64(len(data)) {
		return nil
	}
	s := data[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}