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

// Package secdata defines the persistent secure-version store and the
// firmware management parameters (FWMP) consumed by the kernel verification
// engine, together with memory and file backed store implementations.
//
// The store holds a single monotonic composite version: signing-key version
// in the high 16 bits, preamble version in the low 16 bits. The engine only
// ever raises it. Durability and atomicity of the backing medium are the
// store's responsibility.
package secdata

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// Store provides access to the persisted kernel rollback floor.
type Store interface {
	// KernelVersion returns the current composite version floor.
	KernelVersion() (uint32, error)
	// SetKernelVersion persists a new composite version floor.
	SetKernelVersion(v uint32) error
}

// FWMP exposes the firmware management parameters policy bits relevant to
// kernel verification.
type FWMP interface {
	// DevOfficialOnly reports whether developer mode must still boot
	// officially signed kernels.
	DevOfficialOnly() bool
	// DevUseKeyHash reports whether developer mode must pin the kernel
	// data key to DevKeyDigest.
	DevUseKeyHash() bool
	// DevKeyDigest returns the pinned SHA-256 digest of the kernel data
	// key body, or nil when no digest is provisioned.
	DevKeyDigest() []byte
}

// StaticFWMP is a fixed FWMP policy, useful for hosts and tests.
type StaticFWMP struct {
	OfficialOnly bool
	UseKeyHash   bool
	KeyDigest    []byte
}

// DevOfficialOnly implements FWMP.
func (f *StaticFWMP) DevOfficialOnly() bool { return f.OfficialOnly }

// DevUseKeyHash implements FWMP.
func (f *StaticFWMP) DevUseKeyHash() bool { return f.UseKeyHash }

// DevKeyDigest implements FWMP.
func (f *StaticFWMP) DevKeyDigest() []byte { return f.KeyDigest }

// MemStore is an in-memory Store, standing in for the hardware-backed store
// on hosts and in tests.
type MemStore struct {
	mu sync.Mutex
	v  uint32
}

// NewMemStore returns a MemStore holding the given initial floor.
func NewMemStore(v uint32) *MemStore {
	return &MemStore{v: v}
}

// KernelVersion implements Store.
func (s *MemStore) KernelVersion() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

// SetKernelVersion implements Store.
func (s *MemStore) SetKernelVersion(v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}

// Record layout: struct version, flags, 32-bit composite version, one
// reserved byte, CRC-8 over everything before it.
const (
	recordVersion = 0x02
	recordSize    = 8

	recVersionOffset = 0
	recFlagsOffset   = 1
	recKernelOffset  = 2
	recCRCOffset     = 7
)

// marshalRecord encodes a version floor into the on-medium record.
func marshalRecord(v uint32) []byte {
	rec := make([]byte, recordSize)
	rec[recVersionOffset] = recordVersion
	binary.LittleEndian.PutUint32(rec[recKernelOffset:], v)
	rec[recCRCOffset] = crc8(rec[:recCRCOffset])
	return rec
}

// unmarshalRecord decodes and validates an on-medium record.
func unmarshalRecord(rec []byte) (uint32, error) {
	if len(rec) != recordSize {
		return 0, fmt.Errorf("secdata: record is %d bytes, want %d", len(rec), recordSize)
	}
	if rec[recVersionOffset] != recordVersion {
		return 0, fmt.Errorf("secdata: unsupported record version %#x", rec[recVersionOffset])
	}
	if got, want := crc8(rec[:recCRCOffset]), rec[recCRCOffset]; got != want {
		return 0, fmt.Errorf("secdata: bad CRC %#x, want %#x", got, want)
	}
	return binary.LittleEndian.Uint32(rec[recKernelOffset:]), nil
}

// crc8 computes CRC-8-ITU (x^8 + x^2 + x + 1) over data.
func crc8(data []byte) uint8 {
	crc := uint32(0)
	for _, b := range data {
		crc ^= uint32(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc ^= 0x1070 << 3
			}
			crc <<= 1
		}
	}
	return uint8(crc >> 8)
}

// FileStore persists the version floor in a small CRC-guarded record file.
type FileStore struct {
	mu   sync.Mutex
	path string
	v    uint32
}

// OpenFile opens an existing store file, validating its record.
func OpenFile(path string) (*FileStore, error) {
	rec, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secdata: %v", err)
	}
	v, err := unmarshalRecord(rec)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, v: v}, nil
}

// CreateFile creates a store file holding the given initial floor,
// overwriting any previous contents.
func CreateFile(path string, v uint32) (*FileStore, error) {
	s := &FileStore{path: path, v: v}
	if err := s.write(v); err != nil {
		return nil, err
	}
	return s, nil
}

// KernelVersion implements Store.
func (s *FileStore) KernelVersion() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

// SetKernelVersion implements Store.
func (s *FileStore) SetKernelVersion(v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(v); err != nil {
		return err
	}
	s.v = v
	return nil
}

func (s *FileStore) write(v uint32) error {
	if err := os.WriteFile(s.path, marshalRecord(v), 0o600); err != nil {
		return fmt.Errorf("secdata: %v", err)
	}
	return nil
}
