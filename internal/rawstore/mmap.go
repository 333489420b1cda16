// Package rawstore implements the raw vector storage facade (spec §4.4): two
// memory-mapped arrays, vectors and payload, opened read-only after build and
// shared by reference among the index wrappers built on top of them.
//
// Grounded on the teacher's internal/memory/mmap.go (MemoryMap, built on
// syscall.Mmap/MAP_SHARED); adapted from a single generic byte region to a
// pair of regions with a fixed record stride, plus the reference-counted
// sharing the spec requires and the teacher's facade does not.
package rawstore

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// region is a single read-only memory-mapped file.
type region struct {
	file *os.File
	data []byte
	size int64
}

func openRegion(path string) (*region, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rawstore: open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("rawstore: stat %s: %w", path, err)
	}
	size := stat.Size()
	if size == 0 {
		// An empty index has zero rows; there is nothing to map.
		return &region{file: file, data: nil, size: 0}, nil
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("rawstore: mmap %s: %w", path, err)
	}

	return &region{file: file, data: data, size: size}, nil
}

func (r *region) close() error {
	var err error
	if r.data != nil {
		if uerr := syscall.Munmap(r.data); uerr != nil {
			err = fmt.Errorf("rawstore: munmap: %w", uerr)
		}
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("rawstore: close: %w", cerr)
		}
		r.file = nil
	}
	return err
}

// vectorsPath and payloadPath are the two files named in the per-index
// on-disk layout (spec §3): <handle>/raw/vectors and <handle>/raw/payload.
func vectorsPath(dir string) string { return filepath.Join(dir, "raw", "vectors") }
func payloadPath(dir string) string { return filepath.Join(dir, "raw", "payload") }
