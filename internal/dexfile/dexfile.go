// Package dexfile maps dex files into memory read-only.
package dexfile

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
)

// Image is a memory-mapped file. All stays valid until Close.
type Image struct {
	Path string
	All  []byte
	f    *os.File
}

// Open maps the file at path. Empty files are rejected because they cannot
// be mapped and are never valid dex files.
func Open(path string) (*Image, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		of.Close()
		return nil, fmt.Errorf("%s: empty file", path)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}
	return &Image{Path: path, All: all, f: of}, nil
}

// Close unmaps the memory and closes the underlying file.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Slice returns the bytes in [off, off+size), or false when the range is
// outside the file.
func (im *Image) Slice(off, size uint64) ([]byte, bool) {
	end := off + size
	if end < off || end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// HasDexMagic reports whether the mapping starts with a dex magic of any
// version.
func (im *Image) HasDexMagic() bool {
	return len(im.All) >= 8 && bytes.HasPrefix(im.All, []byte("dex\n")) && im.All[7] == 0
}
