// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
)

// Compare runs the three comparison passes over an already
// correlated (base, patched) pair: non-relocation sections, symbols, then
// relocation-section refinement. It returns an *UnreconcilableError for
// any divergence the pipeline cannot express as a patch.
func Compare(base, patched *Graph) error {
	if err := compareSections(base, patched); err != nil {
		return err
	}
	if err := compareSymbols(base, patched); err != nil {
		return err
	}
	refineRelocSections(base, patched)
	return nil
}

// compareSections classifies every twinned content section (relocation
// sections are classified later, in refineRelocSections) and propagates
// status to the section's entity symbol, section symbol and relocation
// section. Untwinned sections are NEW.
func compareSections(base, patched *Graph) error {
	for _, ps := range patched.Sections {
		if ps.IsRelocSection {
			continue
		}
		if !ps.Twin.Valid() {
			ps.Status = StatusNew
			propagateSectionStatus(ps)
			continue
		}
		bs := ps.TwinIn(base)
		if bs.SH.Type != ps.SH.Type || bs.SH.Flags != ps.SH.Flags ||
			bs.SH.Addr != ps.SH.Addr || bs.SH.Addralign != ps.SH.Addralign ||
			bs.SH.Entsize != ps.SH.Entsize {
			return NewUnreconcilableError("section "+ps.Name+" header fields diverge between base and patched", nil)
		}

		changed := bs.SH.Size != ps.SH.Size
		if !changed && ps.SH.Type != elf.SHT_NOBITS {
			changed = !bytes.Equal(bs.Data, ps.Data)
		}
		if changed {
			ps.Status = StatusChanged
			bs.Status = StatusChanged
		} else {
			ps.Status = StatusSame
			bs.Status = StatusSame
		}
		propagateSectionStatus(ps)
	}
	return nil
}

// propagateSectionStatus pushes a content section's classification onto
// its attached entity symbol, section symbol and relocation section.
func propagateSectionStatus(s *Section) {
	if s.EntitySymbol != nil {
		s.EntitySymbol.Status = s.Status
	}
	if s.SectionSymbol != nil {
		s.SectionSymbol.Status = s.Status
	}
	if s.RelocSection != nil {
		s.RelocSection.Status = s.Status
	}
}

// compareSymbols enforces the info/other/section-link agreement required
// of every twinned symbol (skipping the reserved null entry) and checks
// an OBJECT symbol's size. Symbols bound to UNDEF or ABS are
// unconditionally SAME; all other twinned symbols keep the status
// Correlate pre-seeded (possibly since revised by compareSections).
// Untwinned symbols are NEW.
func compareSymbols(base, patched *Graph) error {
	for _, psym := range patched.Symbols[1:] {
		if psym.IsUndef() || psym.IsAbs() {
			psym.Status = StatusSame
			continue
		}
		if !psym.Twin.Valid() {
			psym.Status = StatusNew
			continue
		}
		bsym := psym.TwinIn(base)
		if bsym.Info != psym.Info || bsym.Other != psym.Other {
			return NewUnreconcilableError("symbol "+psym.Name+" info/other diverge between base and patched", nil)
		}
		bothBound := bsym.Section != nil && psym.Section != nil
		bothUnbound := bsym.Section == nil && psym.Section == nil
		if !bothBound && !bothUnbound {
			return NewUnreconcilableError("symbol "+psym.Name+" section binding diverges between base and patched", nil)
		}
		if bothBound && bsym.Section.Twin != Ref(psym.Section.Index-1) {
			return NewUnreconcilableError("symbol "+psym.Name+" is bound to sections that are not twins", nil)
		}
		if psym.Type() == elf.STT_OBJECT && bsym.Size != psym.Size {
			return NewUnreconcilableError("symbol "+psym.Name+" size diverges between base and patched", nil)
		}
	}
	return nil
}

// refineRelocSections re-examines every relocation section Compare left
// SAME: if any entry is unpaired (NEW), the relocation section and its
// base section's entity/section symbols are upgraded to CHANGED. A
// relocation section with every entry paired remains SAME — any
// byte-level difference was purely a consequence of symbol renumbering.
//
// The original pipeline this is modeled on wrote this comparison as
// sec1->sh.sh_link != sec1->sh.sh_link — a self-comparison that can never
// be true. The intended check is almost certainly base-vs-patched link
// agreement, which compareSymbols above already enforces structurally
// via its twinned-section check; this function implements the
// comparison the surrounding logic clearly intended (NEW entries force a
// CHANGED classification) rather than carrying the no-op forward.
func refineRelocSections(base, patched *Graph) {
	for _, prs := range patched.Sections {
		if !prs.IsRelocSection || prs.Status != StatusSame {
			continue
		}
		anyNew := false
		for _, r := range prs.Relocs {
			if r.Status == StatusNew {
				anyNew = true
				break
			}
		}
		if !anyNew {
			continue
		}
		prs.Status = StatusChanged
		if prs.Base != nil {
			prs.Base.Status = StatusChanged
			if prs.Base.EntitySymbol != nil {
				prs.Base.EntitySymbol.Status = StatusChanged
			}
			if prs.Base.SectionSymbol != nil {
				prs.Base.SectionSymbol.Status = StatusChanged
			}
		}
	}
}