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

package boot

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/google/uuid"
	"github.com/transparency-dev/armored-kernel-boot/disk"
)

// KBufSize is the size of the header window read from the start of each
// candidate partition. It must be large enough to hold any realistic
// keyblock plus preamble; bodies whose metadata exceeds it are rejected.
const KBufSize = 64 * 1024

// RecommendedWorkbufSize is a work buffer capacity sufficient for kernel
// selection.
const RecommendedWorkbufSize = KBufSize + 16*1024

// Params carries the caller-supplied inputs of kernel selection and, after
// success, the description of the winning kernel.
type Params struct {
	// KernelSubkey is the packed key used to verify candidate keyblocks:
	// a recovery key, or the kernel subkey handed over from firmware
	// verification.
	KernelSubkey []byte

	// KernelBuffer, when non-nil, receives the kernel body; bodies larger
	// than the buffer are rejected. When nil, a buffer of exactly the
	// body size is allocated and the preamble's load address is reported
	// in BodyLoadAddress.
	KernelBuffer []byte

	// Outputs, valid after a successful selection.

	// PartitionNumber is the 1-based number of the winning partition.
	PartitionNumber int
	// PartitionGUID identifies the winning partition.
	PartitionGUID uuid.UUID
	// KernelSize is the verified body length within KernelBuffer.
	KernelSize int
	// KernelVersion is the winning kernel's composite rollback version.
	// Later candidates scanned for version information overwrite the
	// shared data, so the winner's own version is recorded here.
	KernelVersion uint32
	// KernelSigned records whether the winning kernel carried a valid
	// signature rather than a merely matching digest.
	KernelSigned bool
	// BodyLoadAddress is where the body expects to execute.
	BodyLoadAddress uint64
	// BootloaderAddress and BootloaderSize locate the bootloader within
	// the loaded body.
	BootloaderAddress uint64
	BootloaderSize    uint64
	// Flags is the preamble flags word of the winning kernel.
	Flags uint32
}

type loadFlags uint32

const (
	// loadVblockOnly stops after vblock verification; the body is neither
	// read nor verified. Used once a kernel has already been accepted and
	// later candidates only contribute version information.
	loadVblockOnly loadFlags = 1 << 0
)

// loadPartition reads one candidate from its stream, verifies its vblock
// and, unless only the header was requested, loads and verifies the kernel
// body into the destination buffer.
func (c *Context) loadPartition(s disk.Stream, flags loadFlags, params *Params) error {
	kbuf, err := c.Workbuf.Alloc(KBufSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkbufExhausted, err)
	}

	start := time.Now()
	if err := s.Read(kbuf); err != nil {
		return fmt.Errorf("%w: %v", ErrReadVblock, err)
	}
	readDur := time.Since(start)

	kb, pre, err := c.verifyVblock(kbuf, params.KernelSubkey)
	if err != nil {
		return err
	}

	if flags&loadVblockOnly != 0 {
		return nil
	}

	// The body must start within the window already read; larger metadata
	// is rejected rather than skipped over.
	bodyOffset := kb.Size + pre.Size
	if bodyOffset > KBufSize {
		return fmt.Errorf("%w: offset %d", ErrBodyOffsetTooLarge, bodyOffset)
	}

	bodySize := pre.BodySig.DataSize
	dest := params.KernelBuffer
	if dest == nil {
		dest = make([]byte, bodySize)
	} else if bodySize > uint64(len(dest)) {
		return fmt.Errorf("%w: body %d bytes, buffer %d", ErrBodyTooLarge, bodySize, len(dest))
	}

	// Part of the body may already sit in the header window.
	copied := uint64(KBufSize) - bodyOffset
	if copied > bodySize {
		copied = bodySize
	}
	copy(dest, kbuf[bodyOffset:bodyOffset+copied])

	if toRead := bodySize - copied; toRead > 0 {
		start = time.Now()
		if err := s.Read(dest[copied : copied+toRead]); err != nil {
			return fmt.Errorf("%w: %v", ErrReadBody, err)
		}
		readDur += time.Since(start)
	}

	if ms := readDur.Milliseconds(); ms > 0 {
		read := bodySize - copied + KBufSize
		klog.V(2).Infof("Read %d KB in %d ms at %d KB/s",
			read/1024, ms, int64(read)*1000/(ms*1024))
	}

	// Unpack the data key again for body verification; the vblock stage
	// kept nothing mutable.
	dataKey, err := kb.UnpackDataKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataKeyInvalid, err)
	}
	if err := pre.VerifyBody(dest[:bodySize], dataKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBodyVerifyFailed, err)
	}

	params.KernelSize = int(bodySize)
	params.BodyLoadAddress = pre.BodyLoadAddress
	params.BootloaderAddress = pre.BootloaderAddress
	params.BootloaderSize = pre.BootloaderSize
	params.Flags = pre.Flags()
	if params.KernelBuffer == nil {
		params.KernelBuffer = dest
	}

	return nil
}
