// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"
	"io"
)

// WriteInventory writes a human-readable inventory dump of g: one
// `section <name>` line per section, then one
// `symbol <name> <type> <bind>` line per symbol (excluding the reserved
// null entry), with type and bind as raw numeric codes. Lines follow g's
// own iteration order — sections in on-disk/output order, symbols in
// symtab order, kept deterministic like every other output stage.
func WriteInventory(g *Graph, w io.Writer) error {
	for _, s := range g.Sections {
		if _, err := fmt.Fprintf(w, "section %s\n", s.Name); err != nil {
			return err
		}
	}
	for _, sym := range g.Symbols[1:] {
		if _, err := fmt.Fprintf(w, "symbol %s %d %d\n", sym.Name, sym.Type(), sym.Bind()); err != nil {
			return err
		}
	}
	return nil
}