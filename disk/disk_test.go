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

package disk_test

import (
	"bytes"
	"testing"

	"github.com/transparency-dev/armored-kernel-boot/disk"
)

func newImage(t *testing.T, sectors uint64, sectorSize uint32) (*disk.Image, []byte) {
	t.Helper()
	data := make([]byte, sectors*uint64(sectorSize))
	for i := range data {
		data[i] = byte(i)
	}
	im, err := disk.NewImage(bytes.NewReader(data), int64(len(data)), sectorSize)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return im, data
}

func TestImageGeometry(t *testing.T) {
	im, _ := newImage(t, 64, 512)
	if got := im.SectorSize(); got != 512 {
		t.Errorf("SectorSize() = %d, want 512", got)
	}
	if got := im.Sectors(); got != 64 {
		t.Errorf("Sectors() = %d, want 64", got)
	}

	if _, err := disk.NewImage(bytes.NewReader(nil), 0, 0); err == nil {
		t.Error("NewImage accepted a zero sector size")
	}
}

func TestImageStream(t *testing.T) {
	im, data := newImage(t, 64, 512)

	s, err := im.OpenStream(2, 4)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = s.Close() }()

	// Sequential reads pick up where the previous one ended.
	a := make([]byte, 512)
	b := make([]byte, 1536)
	if err := s.Read(a); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := s.Read(b); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(a, data[2*512:3*512]) || !bytes.Equal(b, data[3*512:6*512]) {
		t.Error("stream contents differ from backing data")
	}

	// The extent is exhausted now.
	if err := s.Read(make([]byte, 1)); err == nil {
		t.Error("Read past the extent succeeded")
	}
}

func TestImageStreamBounds(t *testing.T) {
	im, _ := newImage(t, 64, 512)

	for _, test := range []struct {
		name         string
		start, count uint64
	}{
		{"start past end", 65, 1},
		{"count past end", 60, 5},
		{"count overflows", 1, 1<<64 - 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := im.OpenStream(test.start, test.count); err == nil {
				t.Errorf("OpenStream(%d, %d) succeeded", test.start, test.count)
			}
		})
	}
}
