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

// Package boot implements the boot-time kernel verification and selection
// engine: given a disk exposing candidate kernel partitions, it locates,
// cryptographically validates and loads exactly one kernel image while
// enforcing anti-rollback policy backed by a persistent secure-version
// store.
package boot

import (
	"github.com/transparency-dev/armored-kernel-boot/secdata"
	"github.com/transparency-dev/armored-kernel-boot/workbuf"
)

// Flags configure a boot attempt.
type Flags uint32

const (
	// FlagRecoveryMode selects recovery boot, regardless of developer
	// mode state.
	FlagRecoveryMode Flags = 1 << iota
	// FlagDeveloperMode selects developer boot: self-signed kernels are
	// acceptable unless policy says otherwise.
	FlagDeveloperMode
	// FlagNofailBoot marks a boot that may be deliberately interrupted;
	// partition attempt counters are not consumed.
	FlagNofailBoot
	// FlagExternalGPT records that the partition table lives on a device
	// other than the one holding the kernels.
	FlagExternalGPT
	// FlagDevBootSignedOnly is the non-volatile developer setting
	// requiring officially signed kernels even in developer mode.
	FlagDevBootSignedOnly
)

// Mode is the resolved boot mode.
type Mode int

const (
	// ModeNormal requires an officially signed kernel.
	ModeNormal Mode = iota
	// ModeRecovery requires an officially signed kernel and skips
	// rollback enforcement.
	ModeRecovery
	// ModeDeveloper may accept self-signed kernels.
	ModeDeveloper
)

func (m Mode) String() string {
	switch m {
	case ModeRecovery:
		return "recovery"
	case ModeDeveloper:
		return "developer"
	default:
		return "normal"
	}
}

// SharedData accumulates the trust facts derived while verifying candidates
// during one boot attempt.
type SharedData struct {
	// KernelVersion is the composite version of the most recently
	// verified candidate: signing-key version in the high 16 bits,
	// preamble version in the low.
	KernelVersion uint32
	// KernelVersionSecdata is the rollback floor read from the
	// secure-version store when the scan started.
	KernelVersionSecdata uint32
	// KernelSigned records whether the most recently verified candidate
	// carried a cryptographically valid signature, as opposed to merely a
	// matching digest. It is reset for every candidate.
	KernelSigned bool
}

// Context is the per-boot-attempt state for kernel selection. It is created
// once by the caller and lives for the duration of the scan; nothing in it
// is persisted across reboots except through the version store and the
// partition table.
type Context struct {
	// Flags configure this boot attempt.
	Flags Flags

	// Secdata is the persistent secure-version store.
	Secdata secdata.Store
	// FWMP supplies the firmware management parameters policy; nil means
	// no policy is provisioned.
	FWMP secdata.FWMP
	// Workbuf is the scratch arena for the selection call chain.
	Workbuf *workbuf.Buf

	// Shared holds the trust facts accumulated this attempt.
	Shared SharedData
}

// BootMode resolves the context flags to a boot mode. Recovery dominates
// developer; absence of both is a normal boot.
func (c *Context) BootMode() Mode {
	if c.Flags&FlagRecoveryMode != 0 {
		return ModeRecovery
	}
	if c.Flags&FlagDeveloperMode != 0 {
		return ModeDeveloper
	}
	return ModeNormal
}

// NeedOfficialSignature reports whether this boot must use an officially
// signed kernel: always, except in developer mode with neither the FWMP
// policy nor the non-volatile developer setting demanding signatures.
func (c *Context) NeedOfficialSignature() bool {
	if c.BootMode() != ModeDeveloper {
		return true
	}
	if c.FWMP != nil && c.FWMP.DevOfficialOnly() {
		return true
	}
	return c.Flags&FlagDevBootSignedOnly != 0
}
