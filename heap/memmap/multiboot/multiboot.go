// Package multiboot decodes the multiboot2 information structure a compliant
// boot loader hands to the kernel. Only the tags the heap cares about are
// interpreted: the memory map, the boot command line and the boot loader
// name. Others are skipped.
package multiboot

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/joshuapare/kheap/heap/memmap"
	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/internal/format"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

const (
	infoHeaderSize = 8
	tagHeaderSize  = 8
	mmapHeaderSize = 8
	minEntrySize   = 24
	tagAlign       = 8
)

var (
	// ErrTruncated indicates an info structure that is shorter than it claims.
	ErrTruncated = errors.New("multiboot: truncated info structure")

	// ErrBadTag indicates a tag whose size field is impossible.
	ErrBadTag = errors.New("multiboot: malformed tag")
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// Mem implements memmap.Record. Only available entries describe heap memory.
func (e MemoryMapEntry) Mem() (memmap.Region, bool) {
	if e.Type != MemAvailable || e.Length == 0 {
		return memmap.Region{}, false
	}
	return memmap.Region{Start: e.PhysAddress, Size: e.Length}, true
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory map entry.
// Return false to stop the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Info is a decoded multiboot2 information structure.
type Info struct {
	TotalSize      uint32
	CmdLine        string
	BootLoaderName string
	Entries        []MemoryMapEntry
}

// VisitMemRegions invokes visitor for each entry of the memory map in order.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	for k := range i.Entries {
		if !visitor(&i.Entries[k]) {
			return
		}
	}
}

// Records implements memmap.Source.
func (i *Info) Records() iter.Seq[memmap.Record] {
	return func(yield func(memmap.Record) bool) {
		i.VisitMemRegions(func(e *MemoryMapEntry) bool {
			return yield(*e)
		})
	}
}

// BootCmdLine splits the command line into key-value pairs. A bare word maps
// to itself.
func (i *Info) BootCmdLine() map[string]string {
	kv := make(map[string]string)
	for _, pair := range strings.Fields(i.CmdLine) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			v = k
		}
		kv[k] = v
	}
	return kv
}

// Parse decodes the info structure at the start of b.
func Parse(b []byte) (*Info, error) {
	r := buf.NewReader(b)
	info := &Info{TotalSize: r.U32()}
	r.Skip(4)
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: missing header", ErrTruncated)
	}
	if int(info.TotalSize) < infoHeaderSize+tagHeaderSize || int(info.TotalSize) > len(b) {
		return nil, fmt.Errorf("%w: total_size=%d, have %d bytes", ErrTruncated, info.TotalSize, len(b))
	}
	r = buf.NewReader(b[:info.TotalSize])
	r.Skip(infoHeaderSize)

	for {
		at := r.Offset()
		typ := tagType(r.U32())
		size := r.U32()
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: no end tag", ErrTruncated)
		}
		if typ == tagMbSectionEnd {
			return info, nil
		}
		if size < tagHeaderSize {
			return nil, fmt.Errorf("%w: type %d at %#x has size %d", ErrBadTag, typ, at, size)
		}
		payload := r.Bytes(int(size) - tagHeaderSize)
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: type %d at %#x runs past total_size", ErrTruncated, typ, at)
		}

		switch typ {
		case tagBootCmdLine:
			info.CmdLine = cString(payload)
		case tagBootLoaderName:
			info.BootLoaderName = cString(payload)
		case tagMemoryMap:
			entries, err := parseMemoryMap(payload)
			if err != nil {
				return nil, fmt.Errorf("tag at %#x: %w", at, err)
			}
			info.Entries = append(info.Entries, entries...)
		}

		// Tags start at 8-byte aligned offsets.
		next, _ := format.AlignUp(uint64(r.Offset()), tagAlign)
		r.Seek(min(int(next), int(info.TotalSize)))
	}
}

func parseMemoryMap(payload []byte) ([]MemoryMapEntry, error) {
	r := buf.NewReader(payload)
	entrySize := r.U32()
	r.Skip(4) // entry_version
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: memory map header", ErrBadTag)
	}
	if entrySize < minEntrySize {
		return nil, fmt.Errorf("%w: memory map entry size %d", ErrBadTag, entrySize)
	}

	var out []MemoryMapEntry
	for r.Len() >= int(entrySize) {
		e := r.Bytes(int(entrySize))
		entry := MemoryMapEntry{
			PhysAddress: format.ReadU64(e, 0),
			Length:      format.ReadU64(e, 8),
			Type:        MemoryEntryType(format.ReadU32(e, 16)),
		}
		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}
		out = append(out, entry)
	}
	return out, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
