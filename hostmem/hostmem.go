// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostmem provides a reference implementation of the host-visible
// mapping primitive the firmware loader and resource interpreter need
// (spec's out-of-scope "memory-mapping primitives" collaborator), backed
// by unix.Mmap over a file, the same way the teacher library maps PRU
// shared RAM through /dev/mem.
package hostmem

import (
	"fmt"
	"os"
	"sync"

	"github.com/aamcrae/rproc/firmware"
	"golang.org/x/sys/unix"
)

// Backing is a host physical-address space, represented as a single
// file-backed region. In production this would be /dev/mem; tests and the
// reference cmd/rprocctl wiring use a temp file sized to cover the
// addresses exercised by the example firmware.
type Backing struct {
	mu   sync.Mutex
	file *os.File
	size int64
}

// Open opens path (created if absent) and sizes it to size bytes, ready
// for mapping sub-regions of it as section/trace-buffer destinations.
func Open(path string, size int64) (*Backing, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("hostmem: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostmem: %w", err)
	}
	return &Backing{file: f, size: size}, nil
}

// Close releases the backing file.
func (b *Backing) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// mapping is the Mapping returned by Map: a live mmap'd view into the
// backing file at a given offset.
type mapping struct {
	data []byte
}

func (m *mapping) Bytes() []byte { return m.data }

func (m *mapping) Close() error {
	return unix.Munmap(m.data)
}

// Map acquires a shared mapping of length bytes at host physical
// address pa, treated here as an offset into the backing file. pa is
// passed straight through to mmap's offset argument and so must be
// page-aligned, the same constraint an address map built from real
// carveout/devmem regions already has to satisfy; an unaligned pa fails
// with EINVAL. Map satisfies firmware.Mapper.
func (b *Backing) Map(pa uint64, length int) (firmware.Mapping, error) {
	if length == 0 {
		return &mapping{data: nil}, nil
	}
	if int64(pa)+int64(length) > b.size {
		return nil, fmt.Errorf("hostmem: pa 0x%x len %d exceeds backing size %d", pa, length, b.size)
	}
	data, err := unix.Mmap(int(b.file.Fd()), int64(pa), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap: %w", err)
	}
	return &mapping{data: data}, nil
}
