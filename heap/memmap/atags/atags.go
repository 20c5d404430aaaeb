// Package atags parses the ARM boot tag list a boot loader leaves in memory
// (at 0x100 on the Raspberry Pi). Each tag starts with a two-word header:
//
//	0x00  u32  tag size in 32-bit words, header included
//	0x04  u32  tag kind
//
// The list ends with a NONE tag.
package atags

import (
	"errors"
	"fmt"
	"iter"

	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/kheap/heap/memmap"
	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/internal/format"
)

// Kind identifies the payload of a tag.
type Kind uint32

const (
	KindNone    Kind = 0x00000000
	KindCore    Kind = 0x54410001
	KindMem     Kind = 0x54410002
	KindCmdline Kind = 0x54410009
)

const (
	headerWords = 2
	wordSize    = 4
	memWords    = headerWords + 2
	coreWords   = headerWords + 3
)

var (
	// ErrBadTag indicates a tag whose declared size is impossible.
	ErrBadTag = errors.New("atags: malformed tag")

	// ErrUnterminated indicates a list that runs off the buffer without a NONE tag.
	ErrUnterminated = errors.New("atags: list not terminated")
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindCore:
		return "CORE"
	case KindMem:
		return "MEM"
	case KindCmdline:
		return "CMDLINE"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", uint32(k))
	}
}

// Atag is one boot tag. Data is the payload after the header.
type Atag struct {
	Kind Kind
	Data []byte
}

// Core is the payload of a CORE tag.
type Core struct {
	Flags    uint32
	PageSize uint32
	RootDev  uint32
}

// Mem implements memmap.Record. MEM tags carry {size u32, start u32}.
func (t Atag) Mem() (memmap.Region, bool) {
	if t.Kind != KindMem || len(t.Data) < 8 {
		return memmap.Region{}, false
	}
	size := format.ReadU32(t.Data, 0)
	start := format.ReadU32(t.Data, 4)
	return memmap.Region{Start: uint64(start), Size: uint64(size)}, size > 0
}

// Core returns the CORE payload. A CORE tag may be empty (header only).
func (t Atag) Core() (Core, bool) {
	if t.Kind != KindCore {
		return Core{}, false
	}
	r := buf.NewReader(t.Data)
	c := Core{Flags: r.U32(), PageSize: r.U32(), RootDev: r.U32()}
	if r.Err() != nil {
		return Core{}, true
	}
	return c, true
}

// Cmdline returns the kernel command line, decoded from Latin-1.
func (t Atag) Cmdline() (string, bool, error) {
	if t.Kind != KindCmdline {
		return "", false, nil
	}
	raw := t.Data
	for i, c := range raw {
		if c == 0 {
			raw = raw[:i]
			break
		}
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", true, fmt.Errorf("atags: decode cmdline: %w", err)
	}
	return string(decoded), true, nil
}

// List is a parsed tag list, NONE excluded.
type List []Atag

// Records implements memmap.Source.
func (l List) Records() iter.Seq[memmap.Record] {
	return func(yield func(memmap.Record) bool) {
		for _, t := range l {
			if !yield(t) {
				return
			}
		}
	}
}

// Cmdline returns the first command line in the list.
func (l List) Cmdline() (string, bool) {
	for _, t := range l {
		if s, ok, err := t.Cmdline(); ok && err == nil {
			return s, true
		}
	}
	return "", false
}

// Parse decodes the tag list at the start of b. The returned tags alias b.
func Parse(b []byte) (List, error) {
	var out List
	r := buf.NewReader(b)
	for {
		at := r.Offset()
		words := r.U32()
		kind := Kind(r.U32())
		if r.Err() != nil {
			return out, fmt.Errorf("%w: at offset %#x", ErrUnterminated, at)
		}
		if kind == KindNone {
			return out, nil
		}
		if words < headerWords {
			return out, fmt.Errorf("%w: %s at %#x declares %d words", ErrBadTag, kind, at, words)
		}
		payload := r.Bytes(int(words-headerWords) * wordSize)
		if r.Err() != nil {
			return out, fmt.Errorf("%w: %s at %#x runs past end of buffer", ErrUnterminated, kind, at)
		}
		if kind == KindMem && words < memWords {
			return out, fmt.Errorf("%w: MEM at %#x declares %d words", ErrBadTag, at, words)
		}
		out = append(out, Atag{Kind: kind, Data: payload})
	}
}
