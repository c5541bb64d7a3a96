// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

// Correlate pairs sections and symbols across base and patched by name
// equality, and relocations by structural equality (see
// correlateRelocations), recording the pairing as a Twin Ref on both
// sides and pre-seeding Status to StatusSame (Compare may later revise
// it).
func Correlate(base, patched *Graph) error {
	correlateSections(base, patched)
	correlateSymbols(base, patched)
	return correlateRelocations(base, patched)
}

func correlateSections(base, patched *Graph) {
	for i, bs := range base.Sections {
		ps, ok := patched.sectionsByName[bs.Name]
		if !ok {
			continue
		}
		j := ps.Index - 1
		bs.Twin = Ref(j)
		bs.Status = StatusSame
		ps.Twin = Ref(i)
		ps.Status = StatusSame
	}
}

func correlateSymbols(base, patched *Graph) {
	// Symbol 0 (the reserved null entry) is excluded from pairing.
	for _, bsym := range base.Symbols[1:] {
		if bsym.Name == "" {
			continue
		}
		psym, ok := patched.symbolsByName[bsym.Name]
		if !ok {
			continue
		}
		bsym.Twin = Ref(psym.Index)
		bsym.Status = StatusSame
		psym.Twin = Ref(bsym.Index)
		psym.Status = StatusSame
	}
}

// correlateRelocations pairs relocations within already-twinned
// relocation sections by structural equality: type and offset must
// match, and then either both sides carry an equal materialized string
// or both target symbols have equal names and equal addends. The first
// match wins; relocations within a section are uniquely identified by
// offset, so ties are not expected.
func correlateRelocations(base, patched *Graph) error {
	for _, bs := range base.Sections {
		if !bs.IsRelocSection || !bs.Twin.Valid() {
			continue
		}
		ps := bs.TwinIn(patched)
		used := make([]bool, len(ps.Relocs))
		for bi, br := range bs.Relocs {
			for pi, pr := range ps.Relocs {
				if used[pi] {
					continue
				}
				if relocsMatch(br, pr) {
					br.Twin = Ref(pi)
					br.Status = StatusSame
					ps.Relocs[pi].Twin = Ref(bi)
					ps.Relocs[pi].Status = StatusSame
					used[pi] = true
					break
				}
			}
		}
		for _, br := range bs.Relocs {
			if !br.Twin.Valid() {
				br.Status = StatusNew
			}
		}
		for _, pr := range ps.Relocs {
			if !pr.Twin.Valid() {
				pr.Status = StatusNew
			}
		}
	}
	// Relocation sections with no twin at all (the whole section is new)
	// never reach the loop above; every entry in them is NEW too.
	for _, g := range [2]*Graph{base, patched} {
		for _, s := range g.Sections {
			if s.IsRelocSection && !s.Twin.Valid() {
				for _, r := range s.Relocs {
					r.Status = StatusNew
				}
			}
		}
	}
	return nil
}

func relocsMatch(a, b *Relocation) bool {
	if a.Type != b.Type || a.Offset != b.Offset {
		return false
	}
	if a.StringLiteral != nil || b.StringLiteral != nil {
		return string(a.StringLiteral) == string(b.StringLiteral)
	}
	return a.Symbol.Name == b.Symbol.Name && a.Addend == b.Addend
}