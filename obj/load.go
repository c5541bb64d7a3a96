// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"fmt"
	"os"
)

// Load reads the relocatable object at path and builds a Graph: every
// section (except the null section), the full symbol table, and every
// relocation section's decoded entries, with relocation sections already
// paired with their base section and every content section already
// pointing back at the relocation section that patches it.
//
// Loading is grounded on debug/elf for everything it already decodes
// (section and symbol tables); only the raw file header (readHeader) and
// the relocation entries themselves (debug/elf exposes no public
// relocation decoder for relocatable objects) are decoded by hand here.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewOperationalError("load", err)
	}
	defer f.Close()

	g, err := load(f, path)
	if err != nil {
		return nil, NewOperationalError("load "+path, err)
	}
	return g, nil
}

func load(f *os.File, path string) (*Graph, error) {
	hdr, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if err := ValidateHeader(&hdr); err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("parsing ELF: %w", err)
	}

	g := &Graph{
		Path:           path,
		Header:         hdr,
		sectionsByName: make(map[string]*Section),
		symbolsByName:  make(map[string]*Symbol),
	}

	// ef.Sections includes the null section at index 0; our Sections
	// slice does not, but the one-based Index we assign still equals the
	// raw ELF section number so lookups by raw index stay a simple
	// slice access (rawIdx-1).
	bySHNum := make([]*Section, len(ef.Sections))
	var relocSections []*Section
	var symtabSHNum = -1
	for i, es := range ef.Sections {
		if es.Type == elf.SHT_NULL {
			continue
		}
		data, err := es.Data()
		if err != nil && es.Type != elf.SHT_NOBITS {
			return nil, fmt.Errorf("reading section %s: %w", es.Name, err)
		}
		s := &Section{
			Name:  es.Name,
			Index: i,
			SH: SectionHeader{
				Type:      es.Type,
				Flags:     es.Flags,
				Addr:      es.Addr,
				Addralign: es.Addralign,
				Entsize:   es.Entsize,
				Link:      es.Link,
				Info:      es.Info,
				Size:      es.Size,
			},
			Data:      data,
			Twin:      NoRef,
			Crosslink: NoRef,
		}
		switch es.Type {
		case elf.SHT_REL, elf.SHT_RELA:
			s.IsRelocSection = true
			s.RelocIsRela = es.Type == elf.SHT_RELA
			relocSections = append(relocSections, s)
		case elf.SHT_SYMTAB:
			symtabSHNum = i
		}
		g.Sections = append(g.Sections, s)
		bySHNum[i] = s
		if _, dup := g.sectionsByName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate section name %q", s.Name)
		}
		g.sectionsByName[s.Name] = s
	}

	// Wire each relocation section to the section it patches (sh_info)
	// and confirm it shares the file's one symbol table (sh_link).
	for _, rs := range relocSections {
		target := bySHNum[rs.SH.Info]
		if target == nil || rs.SH.Info == 0 {
			return nil, fmt.Errorf("relocation section %s has no target section", rs.Name)
		}
		if int(rs.SH.Link) != symtabSHNum {
			return nil, fmt.Errorf("relocation section %s does not reference the object's symbol table", rs.Name)
		}
		if target.RelocSection != nil {
			return nil, fmt.Errorf("section %s is patched by more than one relocation section", target.Name)
		}
		rs.Base = target
		target.RelocSection = rs
	}

	if err := loadSymbols(g, ef, bySHNum); err != nil {
		return nil, err
	}
	if err := loadRelocations(g, ef, bySHNum, relocSections); err != nil {
		return nil, err
	}
	if err := identifySectionEntities(g); err != nil {
		return nil, err
	}
	buildSymbolNameIndex(g)

	return g, nil
}

// loadSymbols decodes the object's single static symbol table, preserving
// the reserved null entry at index 0 so that Graph.Symbols[i].Index == i
// for every i.
func loadSymbols(g *Graph, ef *elf.File, bySHNum []*Section) error {
	g.Symbols = append(g.Symbols, &Symbol{Name: "", Index: 0, Twin: NoRef, Crosslink: NoRef})

	syms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return fmt.Errorf("reading symbol table: %w", err)
	}
	for i, es := range syms {
		sym := &Symbol{
			Name:      es.Name,
			Value:     es.Value,
			Size:      es.Size,
			Info:      es.Info,
			Other:     es.Other,
			Index:     i + 1,
			shndx:     uint16(es.Section),
			Twin:      NoRef,
			Crosslink: NoRef,
		}
		if int(es.Section) >= 1 && int(es.Section) < len(bySHNum) && bySHNum[es.Section] != nil {
			sym.Section = bySHNum[es.Section]
		}
		g.Symbols = append(g.Symbols, sym)
	}
	return nil
}

// buildSymbolNameIndex indexes every named symbol (including SECTION
// symbols, whose display name was aliased to their section's name by
// identifySectionEntities) for Correlate's name-based pairing. Only the
// first symbol seen for a given name is kept: compilation is assumed to
// have placed each function and data object in its own section, so
// duplicate local names are not expected.
func buildSymbolNameIndex(g *Graph) {
	for _, sym := range g.Symbols[1:] {
		if sym.Name == "" {
			continue
		}
		if _, dup := g.symbolsByName[sym.Name]; !dup {
			g.symbolsByName[sym.Name] = sym
		}
	}
}

// identifySectionEntities records, for every content section, its
// anonymous STT_SECTION symbol and the named FUNC/OBJECT symbol that
// starts at offset 0 within it, if any. These drive section-symbol
// substitution. Each unnamed SECTION symbol also takes its section's name
// as its display name.
//
// It also enforces the one-function-or-object-per-section invariant a
// non-zero value would violate, with the single documented exception of
// references into the kernel export-strings section.
func identifySectionEntities(g *Graph) error {
	for _, sym := range g.Symbols[1:] {
		if sym.Section == nil {
			continue
		}
		if sym.Type() == elf.STT_SECTION {
			sym.Section.SectionSymbol = sym
			if sym.Name == "" {
				sym.Name = sym.Section.Name
			}
			continue
		}
		if sym.Type() != elf.STT_FUNC && sym.Type() != elf.STT_OBJECT {
			continue
		}
		if sym.Value != 0 {
			if sym.Section.Name == kernelExportStringsSection {
				continue
			}
			return fmt.Errorf("symbol %s has non-zero value %#x inside its section %s", sym.Name, sym.Value, sym.Section.Name)
		}
		if sym.Section.EntitySymbol == nil {
			sym.Section.EntitySymbol = sym
		}
	}
	return nil
}