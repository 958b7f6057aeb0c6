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

// Package disk defines the storage collaborators of the kernel verification
// engine: a sector-addressed disk, byte streams over partition extents, and
// the partition table yielding candidate kernel partitions.
//
// The partition table's on-disk format is out of scope; tables reach the
// engine already parsed, through the Table interface.
package disk

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Disk is a sector-addressed storage device.
type Disk interface {
	// SectorSize returns the device sector size in bytes.
	SectorSize() uint32
	// Sectors returns the device capacity in sectors.
	Sectors() uint64
	// OpenStream opens a byte stream over the extent of count sectors
	// starting at sector start.
	OpenStream(start, count uint64) (Stream, error)
}

// Stream is an open byte stream positioned within a partition. Reads are
// strictly sequential.
type Stream interface {
	// Read fills buf entirely from the stream, or fails. Reading past the
	// end of the extent is an error.
	Read(buf []byte) error
	// Close releases the stream.
	Close() error
}

// Mark is an attempt-state update applied to a partition table entry.
type Mark int

const (
	// MarkBad records that the entry failed to verify or load; it will
	// not be offered again.
	MarkBad Mark = iota
	// MarkTry records that the entry is being tried this boot, consuming
	// one attempt.
	MarkTry
)

// Entry is a candidate kernel partition yielded by a Table.
type Entry struct {
	// Index is the 1-based partition number, reported for the winner.
	Index int
	// GUID identifies the partition, reported for the winner.
	GUID uuid.UUID
	// Start and Size delimit the partition extent in sectors.
	Start uint64
	Size  uint64
}

// Table yields candidate kernel partitions in selection order and records
// attempt-state updates against the most recently yielded entry.
type Table interface {
	// Next returns the next candidate, or false when the scan is done.
	Next() (*Entry, bool)
	// Update applies a mark to the entry most recently returned by Next.
	Update(m Mark)
	// WriteBack persists accumulated attempt-state updates.
	WriteBack() error
}

// TableSource opens the partition table describing the kernel partitions of
// a disk. external reports that the table lives on a device other than d;
// the entries still address d.
type TableSource interface {
	Open(d Disk, external bool) (Table, error)
}

// Image is a Disk over an io.ReaderAt, typically a disk image file.
type Image struct {
	r          io.ReaderAt
	sectorSize uint32
	sectors    uint64
}

// NewImage returns a Disk reading from r, which holds size bytes addressed
// in sectors of sectorSize bytes.
func NewImage(r io.ReaderAt, size int64, sectorSize uint32) (*Image, error) {
	if sectorSize == 0 || size < 0 {
		return nil, fmt.Errorf("disk: invalid geometry size %d sector %d", size, sectorSize)
	}
	return &Image{
		r:          r,
		sectorSize: sectorSize,
		sectors:    uint64(size) / uint64(sectorSize),
	}, nil
}

// SectorSize implements Disk.
func (im *Image) SectorSize() uint32 { return im.sectorSize }

// Sectors implements Disk.
func (im *Image) Sectors() uint64 { return im.sectors }

// OpenStream implements Disk.
func (im *Image) OpenStream(start, count uint64) (Stream, error) {
	if start > im.sectors || count > im.sectors-start {
		return nil, fmt.Errorf("disk: extent [%d,+%d) outside %d sectors", start, count, im.sectors)
	}
	return &imageStream{
		r:         im.r,
		pos:       int64(start) * int64(im.sectorSize),
		remaining: int64(count) * int64(im.sectorSize),
	}, nil
}

type imageStream struct {
	r         io.ReaderAt
	pos       int64
	remaining int64
}

func (s *imageStream) Read(buf []byte) error {
	if int64(len(buf)) > s.remaining {
		return fmt.Errorf("disk: read of %d bytes exceeds %d remaining in extent", len(buf), s.remaining)
	}
	if _, err := io.ReadFull(io.NewSectionReader(s.r, s.pos, int64(len(buf))), buf); err != nil {
		return fmt.Errorf("disk: %v", err)
	}
	s.pos += int64(len(buf))
	s.remaining -= int64(len(buf))
	return nil
}

func (s *imageStream) Close() error { return nil }
