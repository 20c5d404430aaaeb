// Package mmfile maps boot descriptor blobs (ATAG lists, multiboot info
// dumps) read-only into memory.
package mmfile

import (
	"errors"
	"fmt"
	"os"
)

// MaxSize bounds the blobs Open accepts. Boot descriptors are at most a few
// pages; anything larger is the wrong file.
const MaxSize = 16 << 20

// ErrTooLarge is returned by Open for files over MaxSize.
var ErrTooLarge = errors.New("mmfile: file too large for a boot descriptor")

// Blob is a read-only view of a file.
type Blob struct {
	data    []byte
	release func([]byte) error
}

// Open maps the file at path.
func Open(path string) (*Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size > MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, size)
	}
	if size == 0 {
		return &Blob{data: []byte{}}, nil
	}
	data, release, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmfile: map %s: %w", path, err)
	}
	return &Blob{data: data, release: release}, nil
}

// Bytes returns the mapped contents. They must not be modified and are
// invalid after Close.
func (b *Blob) Bytes() []byte { return b.data }

// Close releases the mapping. It is safe to call more than once.
func (b *Blob) Close() error {
	if b.release == nil || b.data == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return b.release(data)
}
