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

package secdata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x00010009, 0x00020005, 0xffffffff} {
		rec := marshalRecord(v)
		got, err := unmarshalRecord(rec)
		if err != nil {
			t.Fatalf("unmarshalRecord(%#x): %v", v, err)
		}
		if got != v {
			t.Fatalf("unmarshalRecord(%#x) = %#x", v, got)
		}
	}
}

func TestRecordCorruption(t *testing.T) {
	rec := marshalRecord(0x00010009)
	for i := range rec {
		bad := append([]byte(nil), rec...)
		bad[i] ^= 0x01
		if _, err := unmarshalRecord(bad); err == nil {
			t.Errorf("byte %d: corruption not detected", i)
		}
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secdata")

	s, err := CreateFile(path, 0x00010009)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.SetKernelVersion(0x00020005); err != nil {
		t.Fatalf("SetKernelVersion: %v", err)
	}

	// Reopen and observe the persisted floor.
	s2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	v, err := s2.KernelVersion()
	if err != nil {
		t.Fatalf("KernelVersion: %v", err)
	}
	if want := uint32(0x00020005); v != want {
		t.Fatalf("KernelVersion = %#x, want %#x", v, want)
	}
}

func TestOpenFileRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secdata")
	if _, err := CreateFile(path, 7); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	rec, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	rec[recKernelOffset] ^= 0xff
	if err := os.WriteFile(path, rec, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatal("OpenFile accepted a corrupt record")
	}
}
