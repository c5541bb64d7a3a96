// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "debug/elf"

// MarkClosure marks the inclusion closure on g (the patched graph):
// every FUNC symbol with status CHANGED or NEW, plus every FILE symbol
// unconditionally, is the root of a depth-first marking that pulls in
// each root's owning section, that section's section symbol and
// relocation section, and every symbol those relocations target. A NEW
// function is a root for the same reason a CHANGED one is: it has no
// counterpart in the base object and so must travel with the patch for
// the output to be linkable on its own (the minimal no-op case, S1, has
// none of either). It returns the names of the FUNC symbols that started
// the walk, in symbol-table order, for the "function X has changed"
// diagnostic; a nil slice means no changes were found.
func MarkClosure(g *Graph) []string {
	for _, sym := range g.Symbols[1:] {
		if sym.Type() == elf.STT_FILE {
			markSymbol(sym)
		}
	}

	var changed []string
	for _, sym := range g.Symbols[1:] {
		if sym.Type() == elf.STT_FUNC && (sym.Status == StatusChanged || sym.Status == StatusNew) {
			changed = append(changed, sym.Name)
			markSymbol(sym)
		}
	}
	return changed
}

// markSymbol includes s. If s has no owning section, or s is a
// non-SECTION symbol whose status is SAME, the walk stops here — the
// reference will be resolved against the original image at link time.
// Otherwise s's section is marked too.
func markSymbol(s *Symbol) {
	if s.Included {
		return
	}
	s.Included = true
	if s.Section == nil {
		return
	}
	if s.Type() != elf.STT_SECTION && s.Status == StatusSame {
		return
	}
	markSection(s.Section)
}

// markSection includes sec, its section symbol (if any), and — if sec
// carries a relocation section — that relocation section and every
// symbol its entries target.
func markSection(sec *Section) {
	if sec.Included {
		return
	}
	sec.Included = true
	if sec.SectionSymbol != nil {
		markSymbol(sec.SectionSymbol)
	}
	if sec.RelocSection != nil {
		markSection(sec.RelocSection)
		for _, r := range sec.RelocSection.Relocs {
			markSymbol(r.Symbol)
		}
	}
}