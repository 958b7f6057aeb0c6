// Copyright 2026 The Armored Kernel Boot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testonly

import (
	"fmt"
	"testing"

	"github.com/transparency-dev/armored-kernel-boot/disk"
)

// SectorSize is the sector size of every MemDisk.
const SectorSize = 512

// MemDisk is a simple in-memory disk.
type MemDisk struct {
	Data []byte

	// Opened records the start sector of every opened stream, in order.
	Opened []uint64

	// Streams holds every stream handed out, in open order, so tests can
	// inspect how it was read.
	Streams []*MemStream

	// FailOpen makes every OpenStream call fail.
	FailOpen bool
}

// NewMemDisk returns a disk of the given size in sectors.
func NewMemDisk(t *testing.T, sectors uint64) *MemDisk {
	t.Helper()
	return &MemDisk{Data: make([]byte, sectors*SectorSize)}
}

// SectorSize implements disk.Disk.
func (m *MemDisk) SectorSize() uint32 { return SectorSize }

// Sectors implements disk.Disk.
func (m *MemDisk) Sectors() uint64 { return uint64(len(m.Data)) / SectorSize }

// OpenStream implements disk.Disk.
func (m *MemDisk) OpenStream(start, count uint64) (disk.Stream, error) {
	m.Opened = append(m.Opened, start)
	if m.FailOpen {
		return nil, fmt.Errorf("injected open failure at sector %d", start)
	}
	if start > m.Sectors() || count > m.Sectors()-start {
		return nil, fmt.Errorf("extent [%d,+%d) outside %d sectors", start, count, m.Sectors())
	}
	s := &MemStream{
		data: m.Data[start*SectorSize : (start+count)*SectorSize],
	}
	m.Streams = append(m.Streams, s)
	return s, nil
}

// SetPartition writes a partition image at the given start sector.
func (m *MemDisk) SetPartition(t *testing.T, start uint64, image []byte) {
	t.Helper()
	off := start * SectorSize
	if off+uint64(len(image)) > uint64(len(m.Data)) {
		t.Fatalf("partition image of %d bytes at sector %d does not fit", len(image), start)
	}
	copy(m.Data[off:], image)
}

// MemStream is an open stream over a MemDisk extent.
type MemStream struct {
	data []byte
	pos  int

	// Reads counts Read calls, to observe how many disk accesses a load
	// needed.
	Reads int
}

func (s *MemStream) Read(buf []byte) error {
	s.Reads++
	if len(buf) > len(s.data)-s.pos {
		return fmt.Errorf("read of %d bytes at %d exceeds %d byte extent", len(buf), s.pos, len(s.data))
	}
	copy(buf, s.data[s.pos:])
	s.pos += len(buf)
	return nil
}

func (s *MemStream) Close() error { return nil }

// BuildPartition assembles a partition image: keyblock, preamble and body,
// padded to whole sectors. The body sits at the vblock's self-described
// offset.
func BuildPartition(t *testing.T, keyblock, preamble, body []byte) []byte {
	t.Helper()

	bodyOffset := len(keyblock) + len(preamble)
	if bodyOffset > vblockWindow {
		// Callers construct oversized metadata deliberately; keep the
		// image layout self-consistent regardless.
		t.Logf("vblock metadata of %d bytes exceeds the %d byte header window", bodyOffset, vblockWindow)
	}

	size := bodyOffset + len(body)
	if rem := size % SectorSize; rem != 0 {
		size += SectorSize - rem
	}
	// Candidates must be at least one header window long to be readable.
	if size < vblockWindow {
		size = vblockWindow
	}

	img := make([]byte, size)
	copy(img, keyblock)
	copy(img[len(keyblock):], preamble)
	copy(img[bodyOffset:], body)

	return img
}

// vblockWindow mirrors the loader's header window size.
const vblockWindow = 64 * 1024
