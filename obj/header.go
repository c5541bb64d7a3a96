// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

var (
	byteOrderLittle = binary.LittleEndian
	byteOrderBig    = binary.BigEndian
)

// readHeader reads and validates the raw ELF file header at the start of
// r. debug/elf's own File type discards e_flags, e_phoff and the header
// pipeline needs to compare them exactly, so the header is parsed here
// directly from the on-disk Header32/Header64 layout debug/elf already
// exports.
func readHeader(r io.ReaderAt) (Header, error) {
	var ident [elf.EI_NIDENT]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return Header{}, fmt.Errorf("reading identification bytes: %w", err)
	}
	if !bytes.Equal(ident[:4], []byte(elf.ELFMAG)) {
		return Header{}, fmt.Errorf("not an ELF file (bad magic)")
	}

	class := elf.Class(ident[elf.EI_CLASS])
	data := elf.Data(ident[elf.EI_DATA])
	var order binary.ByteOrder
	switch data {
	case elf.ELFDATA2LSB:
		order = byteOrderLittle
	case elf.ELFDATA2MSB:
		order = byteOrderBig
	default:
		return Header{}, fmt.Errorf("unknown data encoding %v", data)
	}

	sr := io.NewSectionReader(r, 0, 1<<40)
	h := Header{Ident: ident}
	switch class {
	case elf.ELFCLASS32:
		var raw elf.Header32
		if err := binary.Read(sr, order, &raw); err != nil {
			return Header{}, fmt.Errorf("reading ELF32 header: %w", err)
		}
		h.Type = elf.Type(raw.Type)
		h.Machine = elf.Machine(raw.Machine)
		h.Version = raw.Version
		h.Entry = uint64(raw.Entry)
		h.Phoff = uint64(raw.Phoff)
		h.Flags = raw.Flags
		h.Ehsize = raw.Ehsize
		h.Phentsize = raw.Phentsize
		h.Phnum = raw.Phnum
		h.Shentsize = raw.Shentsize
		h.Shnum = raw.Shnum
		h.Shstrndx = raw.Shstrndx
	case elf.ELFCLASS64:
		var raw elf.Header64
		if err := binary.Read(sr, order, &raw); err != nil {
			return Header{}, fmt.Errorf("reading ELF64 header: %w", err)
		}
		h.Type = elf.Type(raw.Type)
		h.Machine = elf.Machine(raw.Machine)
		h.Version = raw.Version
		h.Entry = raw.Entry
		h.Phoff = raw.Phoff
		h.Flags = raw.Flags
		h.Ehsize = raw.Ehsize
		h.Phentsize = raw.Phentsize
		h.Phnum = raw.Phnum
		h.Shentsize = raw.Shentsize
		h.Shnum = raw.Shnum
		h.Shstrndx = raw.Shstrndx
	default:
		return Header{}, fmt.Errorf("unknown ELF class %v", class)
	}
	return h, nil
}

// ValidateHeader rejects object kinds this pipeline does not support: it
// operates only on relocatable objects (ET_REL), which by construction
// carry no program headers.
func ValidateHeader(h *Header) error {
	if h.Type != elf.ET_REL {
		return fmt.Errorf("not a relocatable object (e_type=%v)", h.Type)
	}
	if h.Phnum != 0 {
		return fmt.Errorf("relocatable object unexpectedly has %d program headers", h.Phnum)
	}
	return nil
}

// ValidateHeaders enforces the input-pairing invariant: the base and
// patched headers must agree on everything that is not supposed to
// change across a recompilation of the same translation unit.
func ValidateHeaders(base, patched *Header) error {
	switch {
	case base.Ident != patched.Ident:
		return NewUnreconcilableError("identification bytes differ between inputs", nil)
	case base.Type != patched.Type:
		return NewUnreconcilableError(fmt.Sprintf("object type differs: %v vs %v", base.Type, patched.Type), nil)
	case base.Machine != patched.Machine:
		return NewUnreconcilableError(fmt.Sprintf("machine differs: %v vs %v", base.Machine, patched.Machine), nil)
	case base.Version != patched.Version:
		return NewUnreconcilableError("ELF version differs between inputs", nil)
	case base.Entry != patched.Entry:
		return NewUnreconcilableError("entry point differs between inputs", nil)
	case base.Phoff != patched.Phoff:
		return NewUnreconcilableError("program header offset differs between inputs", nil)
	case base.Flags != patched.Flags:
		return NewUnreconcilableError("processor-specific flags differ between inputs", nil)
	case base.Ehsize != patched.Ehsize, base.Phentsize != patched.Phentsize, base.Shentsize != patched.Shentsize:
		return NewUnreconcilableError("header record sizes differ between inputs", nil)
	}
	return nil
}