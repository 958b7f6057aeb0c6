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
	"crypto"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-kernel-boot/sig"
	"github.com/transparency-dev/armored-kernel-boot/vblock"
)

const (
	// maxKeyVersion and maxPreambleVersion cap the two halves of the
	// composite version; the store keeps each in 16 bits.
	maxKeyVersion      = 0xffff
	maxPreambleVersion = 0xffff
)

// verifyVblock validates one candidate's keyblock and preamble against the
// kernel subkey, the boot-mode policy and the rollback floor. On success the
// shared data holds the candidate's composite version and signed flag; on
// any hard failure the signed flag is left cleared and the candidate must be
// abandoned.
func (c *Context) verifyVblock(kbuf []byte, subkey []byte) (kb *vblock.Keyblock, pre *vblock.Preamble, err error) {
	defer func() {
		if err != nil {
			c.Shared.KernelSigned = false
		}
	}()

	key, err := sig.UnpackKey(subkey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSubkeyInvalid, err)
	}

	mode := c.BootMode()
	needSigned := c.NeedOfficialSignature()

	// Assume a valid signature until a check degrades it. A previous
	// candidate's flag must not leak into this one.
	keyblockValid := true
	c.Shared.KernelSigned = false

	kb, err = vblock.ParseKeyblock(kbuf)
	if err != nil {
		// A structurally broken keyblock fails both the signature and
		// the hash path.
		if needSigned {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyblockInvalid, err)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyblockHashInvalid, err)
	}

	if sErr := kb.VerifySignature(key); sErr != nil {
		klog.V(2).Infof("Keyblock signature verification failed: %v", sErr)
		keyblockValid = false

		if needSigned {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyblockInvalid, sErr)
		}

		// Self-signed kernels are enabled; the keyblock digest alone
		// is enough to proceed.
		if hErr := kb.VerifyHash(); hErr != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyblockHashInvalid, hErr)
		}
	}

	// The keyblock must be marked for the current boot mode.
	devBit := uint64(vblock.KeyblockFlagDeveloper0)
	if mode == ModeDeveloper {
		devBit = vblock.KeyblockFlagDeveloper1
	}
	if kb.Flags&devBit == 0 {
		klog.V(2).Infof("Keyblock developer flag mismatch (flags %#x, mode %v)", kb.Flags, mode)
		keyblockValid = false
		if needSigned {
			return nil, nil, ErrDevFlagMismatch
		}
	}
	recBit := uint64(vblock.KeyblockFlagRecovery0)
	if mode == ModeRecovery {
		recBit = vblock.KeyblockFlagRecovery1
	}
	if kb.Flags&recBit == 0 {
		klog.V(2).Infof("Keyblock recovery flag mismatch (flags %#x, mode %v)", kb.Flags, mode)
		keyblockValid = false
		if needSigned {
			return nil, nil, ErrRecFlagMismatch
		}
	}

	// Key version rollback is enforced everywhere but recovery mode.
	keyVersion := kb.DataKeyVersion()
	if mode != ModeRecovery {
		if keyVersion < c.Shared.KernelVersionSecdata>>16 {
			klog.V(2).Infof("Data key version %d below floor %d",
				keyVersion, c.Shared.KernelVersionSecdata>>16)
			keyblockValid = false
			if needSigned {
				return nil, nil, ErrKeyVersionRollback
			}
		}
		if keyVersion > maxKeyVersion {
			keyblockValid = false
			if needSigned {
				return nil, nil, ErrKeyVersionRange
			}
		}
	}

	// Developer key pinning is never optional once the policy demands it.
	if mode == ModeDeveloper && c.FWMP != nil && c.FWMP.DevUseKeyHash() {
		want := c.FWMP.DevKeyDigest()
		if want == nil {
			klog.V(2).Info("No pinned developer key digest provisioned")
			return nil, nil, ErrDevKeyHashMismatch
		}
		got := sig.Digest(crypto.SHA256, kb.DataKeyBytes())
		if !sig.SafeCompare(got, want) {
			klog.V(2).Infof("Developer key digest mismatch: want %x got %x", want, got)
			return nil, nil, ErrDevKeyHashMismatch
		}
	}

	// The keyblock is at least self-consistent at this point. Record
	// whether it would also have been bootable with developer mode off.
	if keyblockValid {
		c.Shared.KernelSigned = true
	}

	dataKey, err := kb.UnpackDataKey()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDataKeyInvalid, err)
	}

	pre, err = vblock.ParsePreamble(kbuf[kb.Size:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPreambleInvalid, err)
	}
	if err := pre.Verify(dataKey); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPreambleInvalid, err)
	}

	if pre.KernelVersion > maxPreambleVersion {
		return nil, nil, ErrPreambleVersionRange
	}

	c.Shared.KernelVersion = keyVersion<<16 | uint32(pre.KernelVersion)

	// Composite version rollback, again skipped in recovery mode and only
	// meaningful when official signing is required.
	if needSigned && mode != ModeRecovery &&
		c.Shared.KernelVersion < c.Shared.KernelVersionSecdata {
		klog.V(2).Infof("Kernel version %#x below floor %#x",
			c.Shared.KernelVersion, c.Shared.KernelVersionSecdata)
		return nil, nil, ErrPreambleVersionRollback
	}

	klog.V(2).Infof("Kernel preamble good, version %#x signed %t",
		c.Shared.KernelVersion, c.Shared.KernelSigned)

	return kb, pre, nil
}
