// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// This file hand-builds minimal, valid ELF64 little-endian x86-64
// relocatable objects entirely in memory, the way go-obj's own tests
// build literal fixtures (obj_test.go's parseHex, elfSym_test.go's
// literal Sym values) rather than checking in binary testdata: this
// tool's own domain is "two small relocatable objects in, one out", so a
// hand-rolled builder producing exactly the section/symbol/relocation
// shapes this tool's end-to-end scenarios describe is both sufficient and
// more legible than an opaque binary fixture.
//
// It deliberately does not call this package's own Write/encodeRelocations:
// a fixture builder that used the code under test to build its own test
// inputs could hide a shared bug on both sides of the round trip.

// fxReloc describes one relocation entry to emit against a function's
// section.
type fxReloc struct {
	offset     uint64
	addend     int64
	typ        uint32
	target     string // name of another fxFunc or fxExtern
	viaSection bool   // target the named function's SECTION symbol instead of its entity symbol
	strTarget  string // name of an fxStr section to target via its SECTION symbol
}

// fxFunc describes one function to place in its own .text.<name> section.
type fxFunc struct {
	name   string
	body   []byte
	local  bool // STB_LOCAL instead of STB_GLOBAL
	relocs []fxReloc
}

// fxExtern describes one undefined external symbol (e.g. a libc call).
type fxExtern struct {
	name string
}

// fxStr describes one SHF_STRINGS merge section (e.g. a ".rodata.str1.1"
// the compiler places NUL-terminated string literals in), named by its own
// anonymous SECTION symbol and never an entity symbol. A relocation
// targets one of its strings by addend offset into data, through strTarget.
type fxStr struct {
	name string
	data []byte
}

// buildObject assembles a complete ELF64 LE ET_REL x86-64 object from the
// given functions and external references, with one FILE symbol, one
// SECTION symbol per function section, one FUNC entity symbol per
// function, and one RELA section per function that declares relocs.
func buildObject(funcs []fxFunc, externs []fxExtern) []byte {
	return buildObjectStrs(funcs, externs, nil)
}

// buildObjectStrs is buildObject plus zero or more SHF_STRINGS sections,
// for fixtures that exercise relocations into string-literal merge
// sections.
func buildObjectStrs(funcs []fxFunc, externs []fxExtern, strs []fxStr) []byte {
	type section struct {
		name      string
		typ       elf.SectionType
		flags     elf.SectionFlag
		data      []byte
		link      uint32
		info      uint32
		entsize   uint64
		addralign uint64
	}
	var sections []section
	textIndex := make(map[string]int) // func name -> 1-based section index
	relaIndex := make(map[string]int) // func name -> 1-based rela section index, if any

	for _, fn := range funcs {
		sections = append(sections, section{
			name:      ".text." + fn.name,
			typ:       elf.SHT_PROGBITS,
			flags:     elf.SHF_ALLOC | elf.SHF_EXECINSTR,
			data:      fn.body,
			addralign: 1,
		})
		textIndex[fn.name] = len(sections)
		if len(fn.relocs) > 0 {
			sections = append(sections, section{
				name:      ".rela.text." + fn.name,
				typ:       elf.SHT_RELA,
				entsize:   24,
				addralign: 8,
			})
			relaIndex[fn.name] = len(sections)
		}
	}
	strIndex := make(map[string]int) // fxStr name -> 1-based section index
	for _, str := range strs {
		sections = append(sections, section{
			name:      str.name,
			typ:       elf.SHT_PROGBITS,
			flags:     elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS,
			data:      str.data,
			addralign: 1,
		})
		strIndex[str.name] = len(sections)
	}
	shstrtabAt := len(sections) + 1
	symtabAt := len(sections) + 2
	strtabAt := len(sections) + 3
	sections = append(sections,
		section{name: ".shstrtab", typ: elf.SHT_STRTAB, addralign: 1},
		section{name: ".symtab", typ: elf.SHT_SYMTAB, entsize: 24, link: uint32(strtabAt), addralign: 8},
		section{name: ".strtab", typ: elf.SHT_STRTAB, addralign: 1},
	)

	// Symbol table: null, FILE, one SECTION symbol per function section
	// (in section order), one FUNC entity symbol per function, then
	// externs.
	type symbol struct {
		name  string
		info  uint8
		other uint8
		shndx uint16
		value uint64
		size  uint64
	}
	syms := []symbol{{}} // index 0, reserved
	syms = append(syms, symbol{
		name:  "t.c",
		info:  uint8(elf.ST_INFO(elf.STB_LOCAL, elf.STT_FILE)),
		shndx: uint16(elf.SHN_ABS),
	})
	sectionSym := make(map[string]int) // func name -> symbol index of its SECTION symbol
	for _, fn := range funcs {
		syms = append(syms, symbol{
			info:  uint8(elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION)),
			shndx: uint16(textIndex[fn.name]),
		})
		sectionSym[fn.name] = len(syms) - 1
	}
	strSectionSym := make(map[string]int) // fxStr name -> symbol index of its SECTION symbol
	for _, str := range strs {
		syms = append(syms, symbol{
			info:  uint8(elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION)),
			shndx: uint16(strIndex[str.name]),
		})
		strSectionSym[str.name] = len(syms) - 1
	}
	entitySym := make(map[string]int) // func name -> symbol index of its FUNC symbol
	for _, fn := range funcs {
		bind := elf.STB_GLOBAL
		if fn.local {
			bind = elf.STB_LOCAL
		}
		syms = append(syms, symbol{
			name:  fn.name,
			info:  uint8(elf.ST_INFO(bind, elf.STT_FUNC)),
			shndx: uint16(textIndex[fn.name]),
			size:  uint64(len(fn.body)),
		})
		entitySym[fn.name] = len(syms) - 1
	}
	externSym := make(map[string]int)
	for _, ex := range externs {
		syms = append(syms, symbol{
			name:  ex.name,
			info:  uint8(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE)),
			shndx: uint16(elf.SHN_UNDEF),
		})
		externSym[ex.name] = len(syms) - 1
	}

	resolve := func(r fxReloc) int {
		if r.strTarget != "" {
			return strSectionSym[r.strTarget]
		}
		if r.viaSection {
			return sectionSym[r.target]
		}
		if i, ok := entitySym[r.target]; ok {
			return i
		}
		return externSym[r.target]
	}

	// Fill in each RELA section's data now that every symbol index is
	// known.
	for _, fn := range funcs {
		if len(fn.relocs) == 0 {
			continue
		}
		buf := &bytes.Buffer{}
		for _, r := range fn.relocs {
			e := elf.Rela64{Off: r.offset, Info: elf.R_INFO(uint32(resolve(r)), r.typ), Addend: r.addend}
			binary.Write(buf, binary.LittleEndian, &e)
		}
		idx := relaIndex[fn.name] - 1
		sections[idx].data = buf.Bytes()
		sections[idx].link = uint32(symtabAt)
		sections[idx].info = uint32(textIndex[fn.name])
	}

	// .strtab: NUL, then each non-SECTION symbol's name + NUL.
	strtab := []byte{0}
	nameOff := make([]uint32, len(syms))
	for i, s := range syms {
		if i == 0 || s.name == "" {
			continue
		}
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}
	sections[strtabAt-1].data = strtab

	// .symtab: concatenated Sym64 records.
	symtabBuf := &bytes.Buffer{}
	for i, s := range syms {
		e := elf.Sym64{Name: nameOff[i], Info: s.info, Other: s.other, Shndx: s.shndx, Value: s.value, Size: s.size}
		binary.Write(symtabBuf, binary.LittleEndian, &e)
	}
	sections[symtabAt-1].data = symtabBuf.Bytes()

	// .shstrtab: NUL, then each section's name + NUL (including its own
	// and the two other metadata sections').
	shstrtab := []byte{0}
	shNameOff := make([]uint32, len(sections))
	for i, s := range sections {
		shNameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(s.name)...)
		shstrtab = append(shstrtab, 0)
	}
	sections[shstrtabAt-1].data = shstrtab

	// Lay out the file: ELF64 header, section header table (null entry +
	// one per section), then each section's data back to back.
	const ehsize, shentsize = 64, 64
	shoff := uint64(ehsize)
	shnum := len(sections) + 1
	offset := shoff + uint64(shnum)*uint64(shentsize)
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		if align := s.addralign; align > 1 {
			offset = (offset + align - 1) &^ (align - 1)
		}
		offsets[i] = offset
		offset += uint64(len(s.data))
	}

	out := &bytes.Buffer{}
	ident := [elf.EI_NIDENT]byte{}
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehsize,
		Shentsize: shentsize,
		Shnum:     uint16(shnum),
		Shstrndx:  uint16(shstrtabAt),
	}
	binary.Write(out, binary.LittleEndian, &hdr)

	binary.Write(out, binary.LittleEndian, &elf.Section64{}) // null section
	for i, s := range sections {
		binary.Write(out, binary.LittleEndian, &elf.Section64{
			Name:      shNameOff[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			Addralign: s.addralign,
			Entsize:   s.entsize,
		})
	}

	for i, s := range sections {
		if pad := int(offsets[i]) - out.Len(); pad > 0 {
			out.Write(make([]byte, pad))
		}
		out.Write(s.data)
	}

	return out.Bytes()
}

// mutateMachine returns a copy of obj with its e_machine field changed,
// for S6-style header-divergence tests.
func mutateMachine(data []byte, machine elf.Machine) []byte {
	out := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(out[18:20], uint16(machine)) // e_machine is at offset 18 in Header64
	return out
}