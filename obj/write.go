// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

// Write serializes an output graph built by Synthesize to path as a
// relocatable ELF object: a fresh header whose class, data
// encoding, machine and type match the graph, a section header table
// (the reserved null entry plus one per Section, in order), and each
// section's data laid out immediately after the table, respecting each
// section's alignment. debug/elf has no corresponding writer, so this is
// hand-rolled over its exported Header32/Header64/Section32/Section64
// on-disk layouts, the way Binject/debug's section encoder
// (addRelocations/encodeRelocations in its elf/reloc_edit.go) packs
// fixed-layout records with
// encoding/binary rather than hand-computed byte offsets.
func Write(g *Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return NewOperationalError("write", err)
	}
	defer f.Close()

	if err := write(g, f); err != nil {
		return NewOperationalError("write "+path, err)
	}
	return nil
}

func write(g *Graph, f *os.File) error {
	class := g.Header.Class()
	order := g.Header.ByteOrder()

	ehsize := ehdrSize(class)
	shentsize := shdrEntSize(class)
	shnum := len(g.Sections) + 1 // + the reserved null entry

	shoff := uint64(ehsize)
	dataStart := shoff + uint64(shnum)*uint64(shentsize)
	offsets := make([]uint64, len(g.Sections))

	offset := dataStart
	for i, s := range g.Sections {
		if s.SH.Type == elf.SHT_NOBITS {
			offsets[i] = offset
			continue
		}
		if align := s.SH.Addralign; align > 1 {
			offset = (offset + align - 1) &^ (align - 1)
		}
		offsets[i] = offset
		offset += uint64(len(s.Data))
	}

	buf := &bytes.Buffer{}
	if err := writeHeader(buf, order, class, &g.Header, shoff, uint16(shnum)); err != nil {
		return err
	}
	if err := writeSectionHeaders(buf, order, class, g, offsets); err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}

	pos := uint64(buf.Len())
	for i, s := range g.Sections {
		if s.SH.Type == elf.SHT_NOBITS {
			continue
		}
		if offsets[i] < pos {
			return fmt.Errorf("internal error: section %s offset %#x precedes write cursor %#x", s.Name, offsets[i], pos)
		}
		if pad := offsets[i] - pos; pad > 0 {
			if _, err := f.Write(make([]byte, pad)); err != nil {
				return err
			}
			pos += pad
		}
		if _, err := f.Write(s.Data); err != nil {
			return err
		}
		pos += uint64(len(s.Data))
	}
	return nil
}

func ehdrSize(class elf.Class) uint16 {
	if class == elf.ELFCLASS64 {
		return 64
	}
	return 52
}

func shdrEntSize(class elf.Class) uint16 {
	if class == elf.ELFCLASS64 {
		return 64
	}
	return 40
}

func writeHeader(buf *bytes.Buffer, order binary.ByteOrder, class elf.Class, h *Header, shoff uint64, shnum uint16) error {
	switch class {
	case elf.ELFCLASS64:
		raw := elf.Header64{
			Ident:     h.Ident,
			Type:      uint16(h.Type),
			Machine:   uint16(h.Machine),
			Version:   h.Version,
			Entry:     h.Entry,
			Phoff:     0,
			Shoff:     shoff,
			Flags:     h.Flags,
			Ehsize:    ehdrSize(class),
			Phentsize: 0,
			Phnum:     0,
			Shentsize: shdrEntSize(class),
			Shnum:     shnum,
			Shstrndx:  h.Shstrndx,
		}
		return binary.Write(buf, order, &raw)
	case elf.ELFCLASS32:
		raw := elf.Header32{
			Ident:     h.Ident,
			Type:      uint16(h.Type),
			Machine:   uint16(h.Machine),
			Version:   h.Version,
			Entry:     uint32(h.Entry),
			Phoff:     0,
			Shoff:     uint32(shoff),
			Flags:     h.Flags,
			Ehsize:    ehdrSize(class),
			Phentsize: 0,
			Phnum:     0,
			Shentsize: shdrEntSize(class),
			Shnum:     shnum,
			Shstrndx:  h.Shstrndx,
		}
		return binary.Write(buf, order, &raw)
	default:
		return fmt.Errorf("unsupported ELF class %v", class)
	}
}

func writeSectionHeaders(buf *bytes.Buffer, order binary.ByteOrder, class elf.Class, g *Graph, offsets []uint64) error {
	// Section 0 is the reserved SHT_NULL entry: an all-zero record.
	switch class {
	case elf.ELFCLASS64:
		if err := binary.Write(buf, order, &elf.Section64{}); err != nil {
			return err
		}
	case elf.ELFCLASS32:
		if err := binary.Write(buf, order, &elf.Section32{}); err != nil {
			return err
		}
	}

	for i, s := range g.Sections {
		switch class {
		case elf.ELFCLASS64:
			raw := elf.Section64{
				Name:      s.SH.NameOff,
				Type:      uint32(s.SH.Type),
				Flags:     uint64(s.SH.Flags),
				Addr:      s.SH.Addr,
				Off:       offsets[i],
				Size:      s.SH.Size,
				Link:      s.SH.Link,
				Info:      s.SH.Info,
				Addralign: s.SH.Addralign,
				Entsize:   s.SH.Entsize,
			}
			if err := binary.Write(buf, order, &raw); err != nil {
				return err
			}
		case elf.ELFCLASS32:
			raw := elf.Section32{
				Name:      s.SH.NameOff,
				Type:      uint32(s.SH.Type),
				Flags:     uint32(s.SH.Flags),
				Addr:      uint32(s.SH.Addr),
				Off:       uint32(offsets[i]),
				Size:      uint32(s.SH.Size),
				Link:      s.SH.Link,
				Info:      s.SH.Info,
				Addralign: uint32(s.SH.Addralign),
				Entsize:   uint32(s.SH.Entsize),
			}
			if err := binary.Write(buf, order, &raw); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported ELF class %v", class)
		}
	}
	return nil
}