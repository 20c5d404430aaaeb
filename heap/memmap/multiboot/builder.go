package multiboot

import "github.com/joshuapare/kheap/internal/format"

// Builder assembles a multiboot2 info structure.
type Builder struct {
	tags []byte
}

func (bl *Builder) tag(typ tagType, payload []byte) {
	off := len(bl.tags)
	size := tagHeaderSize + len(payload)
	padded, _ := format.AlignUp(uint64(size), tagAlign)
	bl.tags = append(bl.tags, make([]byte, padded)...)
	format.PutU32(bl.tags, off, uint32(typ))
	format.PutU32(bl.tags, off+4, uint32(size))
	copy(bl.tags[off+tagHeaderSize:], payload)
}

// CmdLine appends a boot command line tag.
func (bl *Builder) CmdLine(s string) *Builder {
	bl.tag(tagBootCmdLine, append([]byte(s), 0))
	return bl
}

// BootLoaderName appends a boot loader name tag.
func (bl *Builder) BootLoaderName(s string) *Builder {
	bl.tag(tagBootLoaderName, append([]byte(s), 0))
	return bl
}

// MemoryMap appends a memory map tag holding entries.
func (bl *Builder) MemoryMap(entries ...MemoryMapEntry) *Builder {
	p := make([]byte, mmapHeaderSize+len(entries)*minEntrySize)
	format.PutU32(p, 0, minEntrySize)
	for i, e := range entries {
		off := mmapHeaderSize + i*minEntrySize
		format.PutU64(p, off, e.PhysAddress)
		format.PutU64(p, off+8, e.Length)
		format.PutU32(p, off+16, uint32(e.Type))
	}
	bl.tag(tagMemoryMap, p)
	return bl
}

// Bytes appends the end tag and returns the complete structure.
func (bl *Builder) Bytes() []byte {
	total := infoHeaderSize + len(bl.tags) + tagHeaderSize
	out := make([]byte, infoHeaderSize, total)
	format.PutU32(out, 0, uint32(total))
	out = append(out, bl.tags...)
	end := make([]byte, tagHeaderSize)
	format.PutU32(end, 4, tagHeaderSize)
	return append(out, end...)
}
