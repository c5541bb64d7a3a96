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

// metadataSectionNames are included in the output closure unconditionally,
// by name, regardless of what MarkClosure reached.
var metadataSectionNames = [...]string{".shstrtab", ".strtab", ".symtab"}

// Synthesize builds the output graph for an already-closed patched graph
// (MarkClosure and SubstituteSectionSymbols must already have run): it
// copies every included section and symbol into a fresh graph with dense
// renumbered indexes, rewrites FUNC/OBJECT symbols whose section did not
// make the cut into UNDEF references, re-targets every output relocation
// through the crosslink, and rebuilds .strtab/.shstrtab/.symtab.
func Synthesize(patched *Graph) (*Graph, error) {
	for _, name := range metadataSectionNames {
		if s := sectionNamed(patched, name); s != nil {
			s.Included = true
		} else {
			return nil, NewOperationalError("synthesize", fmt.Errorf("input object is missing required section %s", name))
		}
	}

	out := &Graph{Header: patched.Header}

	synthesizeSections(patched, out)
	wireSectionLinks(patched, out)
	if err := synthesizeSymbols(patched, out); err != nil {
		return nil, err
	}
	wireSectionSymbols(patched, out)
	if err := retargetRelocations(patched, out); err != nil {
		return nil, err
	}
	rebuildStrtab(out)
	rebuildShstrtab(out)
	if err := rebuildSymtab(out); err != nil {
		return nil, err
	}

	out.Header.Phoff = 0
	out.Header.Phnum = 0
	if shstrtab := sectionNamed(out, ".shstrtab"); shstrtab != nil {
		out.Header.Shstrndx = uint16(shstrtab.Index)
	}
	out.Header.Shnum = uint16(len(out.Sections) + 1)

	return out, nil
}

// synthesizeSections copies every Included section of patched into out in
// on-disk order, assigning fresh contiguous indexes starting at 1 and
// recording the crosslink both ways. Relocation sections and the three
// metadata sections get their Data rebuilt later; every other content
// section's bytes carry over unchanged.
func synthesizeSections(patched, out *Graph) {
	for _, ps := range patched.Sections {
		if !ps.Included {
			continue
		}
		os := &Section{
			SH:             ps.SH,
			Name:           ps.Name,
			Index:          len(out.Sections) + 1,
			IsRelocSection: ps.IsRelocSection,
			RelocIsRela:    ps.RelocIsRela,
			Twin:           NoRef,
			Crosslink:      Ref(ps.Index - 1),
		}
		isMetadata := ps.Name == ".strtab" || ps.Name == ".shstrtab" || ps.Name == ".symtab"
		if !ps.IsRelocSection && !isMetadata {
			os.Data = ps.Data
		}
		out.Sections = append(out.Sections, os)
		ps.Crosslink = Ref(os.Index - 1)
	}
}

// wireSectionLinks reconnects Base/RelocSection pointers among the freshly
// copied output sections, now that every included section has a
// crosslink.
func wireSectionLinks(patched, out *Graph) {
	for _, ps := range patched.Sections {
		if !ps.Included || !ps.IsRelocSection || ps.Base == nil {
			continue
		}
		osec := ps.CrosslinkIn(out)
		obase := ps.Base.CrosslinkIn(out)
		if osec == nil || obase == nil {
			continue
		}
		osec.Base = obase
		obase.RelocSection = osec
	}
}

// wireSectionSymbols points each output section back at its entity and
// section symbols, once the symbol pass below has established crosslinks.
func wireSectionSymbols(patched, out *Graph) {
	for _, ps := range patched.Sections {
		if !ps.Included {
			continue
		}
		osec := ps.CrosslinkIn(out)
		if osec == nil {
			continue
		}
		if ps.EntitySymbol != nil && ps.EntitySymbol.Crosslink.Valid() {
			osec.EntitySymbol = ps.EntitySymbol.CrosslinkIn(out)
		}
		if ps.SectionSymbol != nil && ps.SectionSymbol.Crosslink.Valid() {
			osec.SectionSymbol = ps.SectionSymbol.CrosslinkIn(out)
		}
	}
}

// synthesizeSymbols copies every Included symbol of patched into out in
// the required ordering: index 0 is the null symbol; then, within
// the local region, FILE symbols, local FUNC symbols, remaining local
// symbols; then all non-local symbols. Each of the four passes walks
// patched.Symbols once in symbol-table order and clears Included after
// copying so a symbol is never copied twice.
func synthesizeSymbols(patched, out *Graph) error {
	out.Symbols = append(out.Symbols, &Symbol{Index: 0, Twin: NoRef, Crosslink: NoRef})

	buckets := []func(*Symbol) bool{
		func(s *Symbol) bool { return s.IsLocal() && s.Type() == elf.STT_FILE },
		func(s *Symbol) bool { return s.IsLocal() && s.Type() == elf.STT_FUNC },
		func(s *Symbol) bool { return s.IsLocal() },
		func(*Symbol) bool { return true },
	}
	for _, pred := range buckets {
		for _, psym := range patched.Symbols[1:] {
			if !psym.Included || !pred(psym) {
				continue
			}
			osym := buildOutputSymbol(psym, out)
			osym.Index = len(out.Symbols)
			out.Symbols = append(out.Symbols, osym)
			psym.Crosslink = Ref(osym.Index)
			osym.Crosslink = Ref(psym.Index)
			psym.Included = false
		}
	}
	return nil
}

// buildOutputSymbol copies psym into a fresh output Symbol. Any defined
// symbol (FUNC, OBJECT, or otherwise — e.g. a local NOTYPE label) whose
// section was not included is rewritten to an undefined global NOTYPE
// symbol of size 0 with section-index UNDEF: such a symbol is a reference
// out of the patch and into the original image, and carrying its stale
// input section index forward would point the output .symtab at an
// unrelated or out-of-range output section.
func buildOutputSymbol(psym *Symbol, out *Graph) *Symbol {
	osym := &Symbol{
		Name:      psym.Name,
		Twin:      NoRef,
		Crosslink: NoRef,
	}

	sectionIncluded := psym.Section != nil && psym.Section.Included
	switch {
	case sectionIncluded:
		osym.Value = psym.Value
		osym.Size = psym.Size
		osym.Info = psym.Info
		osym.Other = psym.Other
		osym.Section = psym.Section.CrosslinkIn(out)
	case psym.Section != nil:
		osym.Info = uint8(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE))
		osym.Other = psym.Other
		osym.shndx = uint16(elf.SHN_UNDEF)
	default:
		// Already unbound (UNDEF/ABS): carry the value forward
		// (meaningful for ABS symbols) and the raw reserved shndx.
		osym.Value = psym.Value
		osym.Size = psym.Size
		osym.Info = psym.Info
		osym.Other = psym.Other
		osym.shndx = psym.rawShndx()
	}
	return osym
}

// retargetRelocations rebuilds every output relocation section's entries
// from its input twin, rewriting each target symbol through the
// crosslink. A relocation whose target has no output twin is an
// operational error: the closure walker is supposed to guarantee every
// relocation target it leaves behind is itself included.
func retargetRelocations(patched, out *Graph) error {
	for _, os := range out.Sections {
		if !os.IsRelocSection {
			continue
		}
		ps := os.CrosslinkIn(patched)
		os.Relocs = make([]*Relocation, 0, len(ps.Relocs))
		for _, pr := range ps.Relocs {
			if !pr.Symbol.Crosslink.Valid() {
				return NewOperationalError("synthesize", fmt.Errorf(
					"relocation in %s targets symbol %s which has no output twin", os.Name, pr.Symbol.Name))
			}
			osym := pr.Symbol.CrosslinkIn(out)
			os.Relocs = append(os.Relocs, &Relocation{
				Type:    pr.Type,
				Offset:  pr.Offset,
				Addend:  pr.Addend,
				Symbol:  osym,
				Section: os,
				Twin:    NoRef,
			})
		}
		data, err := encodeRelocations(out, os)
		if err != nil {
			return NewOperationalError("synthesize", err)
		}
		os.Data = data
		os.SH.Size = uint64(len(data))
		if symtab := sectionNamed(out, ".symtab"); symtab != nil {
			os.SH.Link = uint32(symtab.Index)
		}
		if os.Base != nil {
			os.SH.Info = uint32(os.Base.Index)
		}
	}
	return nil
}

// rebuildStrtab rebuilds .strtab's data buffer over the output symbol
// table: an initial NUL, then each non-SECTION symbol's name and a NUL
// terminator, recording each symbol's NameOff. SECTION symbols keep
// NameOff 0, signifying "use the enclosing section's name".
func rebuildStrtab(out *Graph) {
	strtab := sectionNamed(out, ".strtab")
	if strtab == nil {
		return
	}
	buf := []byte{0}
	for _, sym := range out.Symbols[1:] {
		if sym.Type() == elf.STT_SECTION {
			sym.NameOff = 0
			continue
		}
		sym.NameOff = uint32(len(buf))
		buf = append(buf, []byte(sym.Name)...)
		buf = append(buf, 0)
	}
	strtab.Data = buf
	strtab.SH.Size = uint64(len(buf))
}

// rebuildShstrtab rebuilds .shstrtab's data buffer over the output
// section list: an initial NUL, then each section's name and a NUL
// terminator, in section order, recording each section's NameOff.
func rebuildShstrtab(out *Graph) {
	shstrtab := sectionNamed(out, ".shstrtab")
	if shstrtab == nil {
		return
	}
	buf := []byte{0}
	for _, s := range out.Sections {
		s.SH.NameOff = uint32(len(buf))
		buf = append(buf, []byte(s.Name)...)
		buf = append(buf, 0)
	}
	shstrtab.Data = buf
	shstrtab.SH.Size = uint64(len(buf))
}

// rebuildSymtab packs the output symbol table's data buffer as the
// concatenation of each symbol's on-disk record at the original entry
// size. Its link references .strtab; its info references .shstrtab, the
// choice matches the semantics expected by downstream
// linking tools.
func rebuildSymtab(out *Graph) error {
	symtab := sectionNamed(out, ".symtab")
	if symtab == nil {
		return nil
	}
	order := out.Header.ByteOrder()
	class := out.Header.Class()
	buf := &bytes.Buffer{}
	for _, sym := range out.Symbols {
		shndx := sym.outShndx()
		switch class {
		case elf.ELFCLASS64:
			e := elf.Sym64{Name: sym.NameOff, Info: sym.Info, Other: sym.Other, Shndx: shndx, Value: sym.Value, Size: sym.Size}
			if err := binary.Write(buf, order, &e); err != nil {
				return NewOperationalError("synthesize", err)
			}
		case elf.ELFCLASS32:
			e := elf.Sym32{Name: sym.NameOff, Value: uint32(sym.Value), Size: uint32(sym.Size), Info: sym.Info, Other: sym.Other, Shndx: shndx}
			if err := binary.Write(buf, order, &e); err != nil {
				return NewOperationalError("synthesize", err)
			}
		default:
			return NewOperationalError("synthesize", fmt.Errorf("unsupported ELF class %v", class))
		}
	}
	symtab.Data = buf.Bytes()
	symtab.SH.Size = uint64(len(symtab.Data))
	symtab.SH.Entsize = symEntrySize(class)
	if strtab := sectionNamed(out, ".strtab"); strtab != nil {
		symtab.SH.Link = uint32(strtab.Index)
	}
	if shstrtab := sectionNamed(out, ".shstrtab"); shstrtab != nil {
		symtab.SH.Info = uint32(shstrtab.Index)
	}
	return nil
}

func symEntrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS64 {
		return 24
	}
	return 16
}