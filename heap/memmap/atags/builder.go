package atags

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/kheap/internal/format"
)

// Builder assembles a tag list in the layout a boot loader produces.
type Builder struct {
	b []byte
}

func (bl *Builder) tag(kind Kind, payload []byte) {
	words := headerWords + (len(payload)+wordSize-1)/wordSize
	off := len(bl.b)
	bl.b = append(bl.b, make([]byte, words*wordSize)...)
	format.PutU32(bl.b, off, uint32(words))
	format.PutU32(bl.b, off+4, uint32(kind))
	copy(bl.b[off+headerWords*wordSize:], payload)
}

// Core appends a CORE tag.
func (bl *Builder) Core(c Core) *Builder {
	p := make([]byte, 12)
	format.PutU32(p, 0, c.Flags)
	format.PutU32(p, 4, c.PageSize)
	format.PutU32(p, 8, c.RootDev)
	bl.tag(KindCore, p)
	return bl
}

// Mem appends a MEM tag describing [start, start+size).
func (bl *Builder) Mem(start, size uint32) *Builder {
	p := make([]byte, 8)
	format.PutU32(p, 0, size)
	format.PutU32(p, 4, start)
	bl.tag(KindMem, p)
	return bl
}

// Cmdline appends a NUL-terminated, Latin-1 encoded CMDLINE tag.
func (bl *Builder) Cmdline(s string) (*Builder, error) {
	enc, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return bl, fmt.Errorf("atags: encode cmdline: %w", err)
	}
	bl.tag(KindCmdline, append(enc, 0))
	return bl, nil
}

// Bytes terminates the list with a NONE tag and returns it.
func (bl *Builder) Bytes() []byte {
	out := make([]byte, len(bl.b), len(bl.b)+headerWords*wordSize)
	copy(out, bl.b)
	return append(out, 0, 0, 0, 0, 0, 0, 0, 0)
}
