// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj implements the differencing-and-extraction pipeline used to
// build a minimal relocatable object containing only the functions that
// changed between a base and a patched build of the same translation unit.
//
// A Graph is the in-memory representation of one ELF relocatable object:
// its sections, its symbol table, and the relocations that patch each
// section. Two such graphs — base and patched — are loaded independently
// (Load), paired up by name (Correlate), classified as NEW, CHANGED or SAME
// (Compare), have section-symbol relocations folded onto named entities
// (SubstituteSectionSymbols), and have the transitive closure of changed
// functions marked (MarkClosure). Synthesize then builds a third Graph
// holding only the marked entities, renumbered and re-targeted, which
// Write serializes to disk.
package obj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Status is the classification assigned to a Section, Symbol or Relocation
// once it has been compared against its twin in the opposite file.
type Status int

const (
	// StatusSame indicates a twin exists and is equivalent, possibly
	// modulo symbol renumbering.
	StatusSame Status = iota
	// StatusNew indicates no twin exists.
	StatusNew
	// StatusChanged indicates a twin exists but differs meaningfully.
	// Not a valid status for a Relocation: relocations are compared
	// structurally, not byte-for-byte, so they are only ever NEW or SAME.
	StatusChanged
)

func (s Status) String() string {
	switch s {
	case StatusSame:
		return "SAME"
	case StatusNew:
		return "NEW"
	case StatusChanged:
		return "CHANGED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// relocPrefixRela and relocPrefixRel are the conventional prefixes a
// relocation section's name carries over its base section's name.
const (
	relocPrefixRela = ".rela"
	relocPrefixRel  = ".rel"
)

// Ref is an index into some other Graph's Sections or Symbols slice. It
// models the twin (base<->patched) and crosslink (input<->output)
// relations as handles rather than raw pointers: per design note, these
// are back-references that cross graph boundaries, so representing them
// as an index plus an explicit "which graph resolves this" convention at
// each call site avoids any one graph's lifetime being pinned to
// another's, and makes renumbering during synthesis a matter of editing
// an int in place. NoRef is the "not yet correlated" value.
type Ref int

// NoRef is the zero value of a not-yet-established Ref.
const NoRef Ref = -1

// Valid reports whether r refers to a real slice position.
func (r Ref) Valid() bool { return r >= 0 }

// kernelExportStringsSection is the one documented exception to "a FUNC or
// OBJECT symbol must have value 0 inside its section": references into the
// kernel's export-strings section carry a non-zero offset by construction.
const kernelExportStringsSection = "__ksymtab_strings"

// Graph is the in-memory object graph for one ELF relocatable file: either
// one of the two inputs (base or patched) or the synthesized output.
type Graph struct {
	// Path is the file this graph was loaded from, or "" for a
	// synthesized output graph.
	Path string

	Header Header

	// Sections holds every non-null section, indexed by Section.Index-1.
	// ELF section 0 (SHT_NULL) is never represented.
	Sections []*Section

	// Symbols holds the full symbol table, including the reserved null
	// symbol at Symbols[0].
	Symbols []*Symbol

	// sectionsByName and symbolsByName index Sections and Symbols (the
	// null symbol excluded) for Correlate's name-based pairing.
	sectionsByName map[string]*Section
	symbolsByName  map[string]*Symbol
}

// Header captures the subset of the ELF file header that this pipeline
// must validate, preserve or emit. It is populated directly from the raw
// on-disk header (see header.go) rather than from debug/elf's FileHeader,
// because debug/elf does not expose e_flags, e_phoff or the header size
// fields after parsing.
type Header struct {
	Ident     [elf.EI_NIDENT]byte
	Type      elf.Type
	Machine   elf.Machine
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Class returns the ELF class (32- or 64-bit) of the header.
func (h *Header) Class() elf.Class { return elf.Class(h.Ident[elf.EI_CLASS]) }

// Data returns the ELF data encoding (endianness) of the header.
func (h *Header) Data() elf.Data { return elf.Data(h.Ident[elf.EI_DATA]) }

// ByteOrder returns the byte order implied by the header's data encoding.
func (h *Header) ByteOrder() binary.ByteOrder {
	if h.Data() == elf.ELFDATA2MSB {
		return byteOrderBig
	}
	return byteOrderLittle
}

// SectionHeader is the subset of an ELF section header this pipeline
// reads, compares and rebuilds.
type SectionHeader struct {
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Addralign uint64
	Entsize   uint64
	Link      uint32
	Info      uint32
	Size      uint64
	NameOff   uint32
}

// Section is one section of an object file: either a relocation section
// (IsRelocSection true, carrying Relocs and pointing at Base) or a content
// section (which may be pointed at by exactly one relocation section,
// RelocSection, and named by up to two symbols, SectionSymbol and
// EntitySymbol).
type Section struct {
	SH   SectionHeader
	Data []byte
	Name string

	// Index is this section's one-based position: on an input graph this
	// is the raw ELF section number; on the output graph it is freshly
	// assigned during synthesis.
	Index int

	Status Status

	// IsRelocSection and the three fields below are mutually exclusive
	// with the three content-section fields that follow.
	IsRelocSection bool
	RelocIsRela    bool
	Base           *Section      // base section this patches (relocation sections only)
	Relocs         []*Relocation // decoded entries (relocation sections only)

	RelocSection  *Section // the relocation section that patches this one, if any
	SectionSymbol *Symbol  // anonymous symbol naming this section, if any
	EntitySymbol  *Symbol  // named FUNC/OBJECT symbol at offset 0, if any

	// Twin indexes this section's counterpart in the opposite input
	// graph (base<->patched); Crosslink indexes its copy in the output
	// graph once synthesized (input<->output). Both resolve against
	// Graph.Sections of whichever graph is contextually "the other one"
	// at each call site: Correlate/Compare only ever deal with a
	// (base, patched) pair, Synthesize only with an (input, output) pair.
	Twin      Ref
	Crosslink Ref

	// Included marks this section as part of the output closure.
	Included bool
}

// TwinIn resolves s.Twin against other's Sections, or nil if unset.
func (s *Section) TwinIn(other *Graph) *Section {
	if !s.Twin.Valid() {
		return nil
	}
	return other.Sections[s.Twin]
}

// CrosslinkIn resolves s.Crosslink against other's Sections, or nil if unset.
func (s *Section) CrosslinkIn(other *Graph) *Section {
	if !s.Crosslink.Valid() {
		return nil
	}
	return other.Sections[s.Crosslink]
}

func (s *Section) String() string {
	if s == nil {
		return "<nil section>"
	}
	return s.Name
}

// IsStringTable reports whether this section holds NUL-terminated string
// data (SHF_STRINGS set), used to decide whether a relocation targeting a
// symbol in this section should carry a materialized string pointer. Real
// string literals a relocation can target live in SHF_STRINGS merge
// sections such as .rodata.str1.* (SHT_PROGBITS) and in the kernel
// export-strings section, not in .strtab: no relocation ever targets a
// symbol in .strtab itself.
func (s *Section) IsStringTable() bool {
	return s.SH.Flags&elf.SHF_STRINGS != 0
}

// Symbol is a symbol table entry.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Info    uint8
	Other   uint8
	Section *Section // nil for undefined/absolute symbols

	// shndx is the raw on-disk section index, kept only to distinguish
	// SHN_UNDEF from SHN_ABS and other reserved values when Section is
	// nil; see IsUndef/IsAbs.
	shndx uint16

	// Index is this symbol's position in the symbol table: on an input
	// graph the raw ELF symbol index, on the output graph a freshly
	// assigned dense index.
	Index int

	Status Status

	Twin      Ref
	Crosslink Ref

	Included bool

	// NameOff is the offset into the output .strtab at which this
	// symbol's name was written. It is only meaningful on an output
	// graph's symbols, and only set during synth.go's rebuildStrtab;
	// SECTION symbols keep it at 0 to signify "use the enclosing
	// section's name".
	NameOff uint32
}

// TwinIn resolves s.Twin against other's Symbols, or nil if unset.
func (s *Symbol) TwinIn(other *Graph) *Symbol {
	if !s.Twin.Valid() {
		return nil
	}
	return other.Symbols[s.Twin]
}

// CrosslinkIn resolves s.Crosslink against other's Symbols, or nil if unset.
func (s *Symbol) CrosslinkIn(other *Graph) *Symbol {
	if !s.Crosslink.Valid() {
		return nil
	}
	return other.Symbols[s.Crosslink]
}

func (s *Symbol) String() string {
	if s == nil {
		return "<nil symbol>"
	}
	return s.Name
}

// Bind returns the symbol's STB_* binding.
func (s *Symbol) Bind() elf.SymBind { return elf.ST_BIND(s.Info) }

// Type returns the symbol's STT_* type.
func (s *Symbol) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// IsLocal reports whether the symbol's name is only meaningful within its
// defining compilation unit.
func (s *Symbol) IsLocal() bool { return s.Bind() == elf.STB_LOCAL }

// IsUndef reports whether the symbol is undefined (resolved at link time).
func (s *Symbol) IsUndef() bool { return s.Section == nil && s.rawShndx() == uint16(elf.SHN_UNDEF) }

// IsAbs reports whether the symbol has an absolute value not affected by
// section inclusion.
func (s *Symbol) IsAbs() bool { return s.Section == nil && s.rawShndx() == uint16(elf.SHN_ABS) }

// rawShndx is set during loading and is only meaningful for symbols with a
// nil Section (i.e. it distinguishes SHN_UNDEF from SHN_ABS and other
// reserved indexes); see load.go.
func (s *Symbol) rawShndx() uint16 { return s.shndx }

// outShndx returns the section index this symbol should be encoded with
// on an output graph: the owning section's freshly assigned Index when
// bound, otherwise the raw reserved index (SHN_UNDEF, SHN_ABS, ...)
// recorded when the symbol was built (see synth.go).
func (s *Symbol) outShndx() uint16 {
	if s.Section != nil {
		return uint16(s.Section.Index)
	}
	return s.shndx
}

// sectionNamed returns the section in g named name, or nil.
func sectionNamed(g *Graph, name string) *Section {
	if g.sectionsByName != nil {
		if s, ok := g.sectionsByName[name]; ok {
			return s
		}
	}
	for _, s := range g.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Relocation is one entry of a relocation section.
type Relocation struct {
	// Type is the raw relocation type code (e.g. an elf.R_X86_64 or
	// elf.R_AARCH64 value widened to uint32); interpreted only by the
	// machine, never by this pipeline.
	Type uint32

	Offset uint64
	Addend int64
	Symbol *Symbol

	// StringLiteral holds the NUL-terminated bytes this relocation's
	// target points to, when Symbol's section is a string table. It is
	// a slice into the decoded data of Symbol's section, at Addend.
	StringLiteral []byte

	// Section is the relocation section this entry belongs to.
	Section *Section

	// Status is StatusNew or StatusSame; a Relocation is never CHANGED.
	Status Status

	// Twin indexes this entry's counterpart within the twin relocation
	// section's Relocs slice (reach the twin section first via
	// Section.Twin, then index into its Relocs with this).
	Twin Ref
}

// TwinIn resolves r.Twin against otherSection's Relocs, or nil if unset.
func (r *Relocation) TwinIn(otherSection *Section) *Relocation {
	if !r.Twin.Valid() || otherSection == nil {
		return nil
	}
	return otherSection.Relocs[r.Twin]
}

func (r *Relocation) String() string {
	if r == nil {
		return "<nil reloc>"
	}
	return fmt.Sprintf("reloc@%#x(type=%d,sym=%s,add=%d)", r.Offset, r.Type, r.Symbol, r.Addend)
}
