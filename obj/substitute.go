// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "debug/elf"

// SubstituteSectionSymbols walks every relocation in every relocation
// section of g and retargets any relocation pointing at a SECTION symbol
// to that section's entity symbol, when one exists. Compilers commonly
// emit references to local functions and objects through their enclosing
// section's anonymous symbol; retargeting to the named symbol lets the
// final link resolve against the unchanged definition in the original
// image instead of forcing an unwanted copy of the section.
func SubstituteSectionSymbols(g *Graph) {
	for _, s := range g.Sections {
		if !s.IsRelocSection {
			continue
		}
		for _, r := range s.Relocs {
			sym := r.Symbol
			if sym.Type() != elf.STT_SECTION || sym.Section == nil {
				continue
			}
			if entity := sym.Section.EntitySymbol; entity != nil {
				r.Symbol = entity
			}
		}
	}
}