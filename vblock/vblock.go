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

// Package vblock parses and verifies the verification block found at the
// start of a signed kernel partition: a keyblock binding a versioned
// data-signing key to boot-mode flags, immediately followed by a preamble
// describing the kernel body.
//
// All records use little-endian fields. Offsets inside a signature
// descriptor are relative to the start of the descriptor; offsets inside the
// embedded packed key are relative to the start of the key record. The
// layouts interoperate with existing signed images and must not change.
package vblock

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/transparency-dev/armored-kernel-boot/sig"
)

// Magic identifies a keyblock.
const Magic = "CHROMEOS"

const (
	// KeyblockHeaderSize is the size of the fixed keyblock header.
	KeyblockHeaderSize = 112

	keyblockVersionMajor = 2

	// Offsets of the keyblock header fields.
	kbMagicOffset   = 0
	kbMajorOffset   = 8
	kbMinorOffset   = 12
	kbSizeOffset    = 16
	kbSigOffset     = 24
	kbHashOffset    = 48
	kbFlagsOffset   = 72
	kbDataKeyOffset = 80
)

// Keyblock flags word bits. Each boot mode is represented by a pair: bit N
// permits the mode being off, bit N+1 permits it being on.
const (
	KeyblockFlagDeveloper0 = 1 << 0
	KeyblockFlagDeveloper1 = 1 << 1
	KeyblockFlagRecovery0  = 1 << 2
	KeyblockFlagRecovery1  = 1 << 3
)

// SignatureSize is the size of a signature descriptor.
const SignatureSize = 24

const (
	preambleVersionMajor = 2

	// Offsets of the preamble header fields.
	preSizeOffset       = 0
	preSigOffset        = 8
	preMajorOffset      = 32
	preMinorOffset      = 36
	preKernelVerOffset  = 40
	preBodyLoadOffset   = 48
	preBootloaderOffset = 56
	preBootloaderSize   = 64
	preBodySigOffset    = 72
	preVmlinuzAddr      = 96
	preVmlinuzSize      = 104
	preFlagsOffset      = 112
)

var (
	errTooSmall   = errors.New("buffer too small")
	errBadMagic   = errors.New("bad keyblock magic")
	errBadVersion = errors.New("unsupported header version")
)

// Signature is a signature descriptor: the location of the signature blob
// relative to the descriptor itself, and the length of the data it covers.
type Signature struct {
	SigOffset uint64
	SigSize   uint64
	DataSize  uint64
}

func parseSignature(buf []byte, off int) Signature {
	return Signature{
		SigOffset: binary.LittleEndian.Uint64(buf[off:]),
		SigSize:   binary.LittleEndian.Uint64(buf[off+8:]),
		DataSize:  binary.LittleEndian.Uint64(buf[off+16:]),
	}
}

// inside reports whether the signature blob described by s, whose descriptor
// sits at offset desc in a record of the given size, lies fully within the
// record.
func (s Signature) inside(desc, size uint64) bool {
	start := desc + s.SigOffset
	if start < desc { // overflow
		return false
	}
	return start <= size && s.SigSize <= size-start
}

// Keyblock is a parsed keyblock header. The raw backing bytes are retained
// for signature and digest verification.
type Keyblock struct {
	// Size is the self-described total keyblock length, including key data
	// and signatures.
	Size uint64
	// Sig signs the keyblock with the subkey, Hash is the weaker
	// self-describing digest used for hash-only acceptance.
	Sig  Signature
	Hash Signature
	// Flags is the boot-mode flags word.
	Flags uint64

	raw []byte
}

// ParseKeyblock parses and structurally validates the keyblock at the start
// of buf. The keyblock's self-described size must fit within buf; signature
// blobs and the embedded data key must fall inside the keyblock.
func ParseKeyblock(buf []byte) (*Keyblock, error) {
	if len(buf) < KeyblockHeaderSize {
		return nil, fmt.Errorf("keyblock: %w: %d bytes", errTooSmall, len(buf))
	}
	if !bytes.Equal(buf[kbMagicOffset:kbMagicOffset+8], []byte(Magic)) {
		return nil, fmt.Errorf("keyblock: %w", errBadMagic)
	}
	if major := binary.LittleEndian.Uint32(buf[kbMajorOffset:]); major != keyblockVersionMajor {
		return nil, fmt.Errorf("keyblock: %w: %d", errBadVersion, major)
	}

	kb := &Keyblock{
		Size:  binary.LittleEndian.Uint64(buf[kbSizeOffset:]),
		Sig:   parseSignature(buf, kbSigOffset),
		Hash:  parseSignature(buf, kbHashOffset),
		Flags: binary.LittleEndian.Uint64(buf[kbFlagsOffset:]),
	}

	if kb.Size < KeyblockHeaderSize || kb.Size > uint64(len(buf)) {
		return nil, fmt.Errorf("keyblock: self-described size %d outside [%d,%d]",
			kb.Size, KeyblockHeaderSize, len(buf))
	}
	if !kb.Sig.inside(kbSigOffset, kb.Size) {
		return nil, errors.New("keyblock: signature blob outside keyblock")
	}
	if !kb.Hash.inside(kbHashOffset, kb.Size) {
		return nil, errors.New("keyblock: hash blob outside keyblock")
	}

	kb.raw = buf[:kb.Size]

	keyOff, keySize := kb.dataKeyRegion()
	if keyOff > kb.Size || keySize > kb.Size-keyOff {
		return nil, errors.New("keyblock: data key outside keyblock")
	}

	return kb, nil
}

// dataKeyRegion returns the absolute offset and size of the data key body
// within the keyblock.
func (kb *Keyblock) dataKeyRegion() (uint64, uint64) {
	off := binary.LittleEndian.Uint64(kb.raw[kbDataKeyOffset:])
	size := binary.LittleEndian.Uint64(kb.raw[kbDataKeyOffset+8:])
	abs := kbDataKeyOffset + off
	if abs < off { // overflow
		return kb.Size, kb.Size
	}
	return abs, size
}

// DataKeyVersion returns the version of the embedded data-signing key.
func (kb *Keyblock) DataKeyVersion() uint32 {
	return uint32(binary.LittleEndian.Uint64(kb.raw[kbDataKeyOffset+24:]))
}

// DataKeyBytes returns the raw data key body, the bytes digested when
// checking a pinned developer key.
func (kb *Keyblock) DataKeyBytes() []byte {
	off, size := kb.dataKeyRegion()
	return kb.raw[off : off+size]
}

// UnpackDataKey unpacks the embedded data-signing key.
func (kb *Keyblock) UnpackDataKey() (*sig.Key, error) {
	return sig.UnpackKey(kb.raw[kbDataKeyOffset:kb.Size])
}

func (kb *Keyblock) sigBytes(s Signature, desc uint64) []byte {
	return kb.raw[desc+s.SigOffset : desc+s.SigOffset+s.SigSize]
}

// checkSignedRegion validates that a signed region covers the keyblock
// header and the embedded key data, without reaching past the keyblock.
func (kb *Keyblock) checkSignedRegion(dataSize uint64) error {
	if dataSize > kb.Size {
		return fmt.Errorf("keyblock: signed region %d exceeds keyblock size %d", dataSize, kb.Size)
	}
	if dataSize < KeyblockHeaderSize {
		return fmt.Errorf("keyblock: signed region %d does not cover header", dataSize)
	}
	keyOff, keySize := kb.dataKeyRegion()
	if dataSize < keyOff+keySize {
		return fmt.Errorf("keyblock: signed region %d does not cover key data", dataSize)
	}
	return nil
}

// VerifySignature checks the keyblock signature against the given subkey.
func (kb *Keyblock) VerifySignature(subkey *sig.Key) error {
	if err := kb.checkSignedRegion(kb.Sig.DataSize); err != nil {
		return err
	}
	if int(kb.Sig.SigSize) != subkey.SignatureSize() {
		return fmt.Errorf("keyblock: signature is %d bytes, key needs %d",
			kb.Sig.SigSize, subkey.SignatureSize())
	}
	return subkey.Verify(kb.raw[:kb.Sig.DataSize], kb.sigBytes(kb.Sig, kbSigOffset))
}

// VerifyHash checks the keyblock's self-describing digest. This is the
// weaker, hash-only acceptance path; it proves integrity but not origin.
func (kb *Keyblock) VerifyHash() error {
	if err := kb.checkSignedRegion(kb.Hash.DataSize); err != nil {
		return err
	}
	digest := sig.Digest(crypto.SHA512, kb.raw[:kb.Hash.DataSize])
	if int(kb.Hash.SigSize) != len(digest) {
		return fmt.Errorf("keyblock: hash is %d bytes, want %d", kb.Hash.SigSize, len(digest))
	}
	if !sig.SafeCompare(digest, kb.sigBytes(kb.Hash, kbHashOffset)) {
		return errors.New("keyblock: hash mismatch")
	}
	return nil
}

// Preamble is a parsed kernel preamble. The raw backing bytes are retained
// for signature verification.
type Preamble struct {
	// Size is the self-described total preamble length.
	Size uint64
	// Sig signs the preamble with the keyblock's data key.
	Sig Signature
	// HeaderMinor is the preamble format minor version; fields below the
	// 2.0 set are only meaningful at sufficiently new minors.
	HeaderMinor uint32
	// KernelVersion is the low half of the composite rollback version.
	KernelVersion uint64
	// BodyLoadAddress is where the kernel body expects to be loaded.
	BodyLoadAddress uint64
	// BootloaderAddress and BootloaderSize locate the bootloader within
	// the loaded body.
	BootloaderAddress uint64
	BootloaderSize    uint64
	// BodySig covers the kernel body.
	BodySig Signature

	raw []byte
}

// preambleHeaderSize returns the fixed header size for a format minor
// version.
func preambleHeaderSize(minor uint32) uint64 {
	switch {
	case minor == 0:
		return 96
	case minor == 1:
		return 112
	default:
		return 116
	}
}

// ParsePreamble parses and structurally validates the preamble at the start
// of buf, which is expected to sit at the keyblock's self-described size
// within a partition. The preamble's self-described size must fit within
// buf.
func ParsePreamble(buf []byte) (*Preamble, error) {
	if len(buf) < int(preambleHeaderSize(0)) {
		return nil, fmt.Errorf("preamble: %w: %d bytes", errTooSmall, len(buf))
	}
	if major := binary.LittleEndian.Uint32(buf[preMajorOffset:]); major != preambleVersionMajor {
		return nil, fmt.Errorf("preamble: %w: %d", errBadVersion, major)
	}

	p := &Preamble{
		Size:              binary.LittleEndian.Uint64(buf[preSizeOffset:]),
		Sig:               parseSignature(buf, preSigOffset),
		HeaderMinor:       binary.LittleEndian.Uint32(buf[preMinorOffset:]),
		KernelVersion:     binary.LittleEndian.Uint64(buf[preKernelVerOffset:]),
		BodyLoadAddress:   binary.LittleEndian.Uint64(buf[preBodyLoadOffset:]),
		BootloaderAddress: binary.LittleEndian.Uint64(buf[preBootloaderOffset:]),
		BootloaderSize:    binary.LittleEndian.Uint64(buf[preBootloaderSize:]),
		BodySig:           parseSignature(buf, preBodySigOffset),
	}

	if fixed := preambleHeaderSize(p.HeaderMinor); p.Size < fixed {
		return nil, fmt.Errorf("preamble: self-described size %d below header size %d", p.Size, fixed)
	}
	if p.Size > uint64(len(buf)) {
		return nil, fmt.Errorf("preamble: self-described size %d exceeds %d bytes read", p.Size, len(buf))
	}
	if !p.Sig.inside(preSigOffset, p.Size) {
		return nil, errors.New("preamble: signature blob outside preamble")
	}
	if !p.BodySig.inside(preBodySigOffset, p.Size) {
		return nil, errors.New("preamble: body signature blob outside preamble")
	}

	p.raw = buf[:p.Size]

	return p, nil
}

// Flags returns the preamble flags word, or zero for format versions that
// predate it.
func (p *Preamble) Flags() uint32 {
	if p.HeaderMinor < 2 {
		return 0
	}
	return binary.LittleEndian.Uint32(p.raw[preFlagsOffset:])
}

// VmlinuzHeader returns the address and size of the 16-bit vmlinuz header,
// or zeroes for format versions that predate it.
func (p *Preamble) VmlinuzHeader() (uint64, uint64) {
	if p.HeaderMinor < 1 {
		return 0, 0
	}
	return binary.LittleEndian.Uint64(p.raw[preVmlinuzAddr:]),
		binary.LittleEndian.Uint64(p.raw[preVmlinuzSize:])
}

// Verify checks the preamble signature against the keyblock's data key. The
// signed region must cover at least the fixed header and must not reach past
// the preamble.
func (p *Preamble) Verify(dataKey *sig.Key) error {
	if p.Sig.DataSize > p.Size {
		return fmt.Errorf("preamble: signed region %d exceeds preamble size %d", p.Sig.DataSize, p.Size)
	}
	if fixed := preambleHeaderSize(p.HeaderMinor); p.Sig.DataSize < fixed {
		return fmt.Errorf("preamble: signed region %d does not cover header", p.Sig.DataSize)
	}
	if int(p.Sig.SigSize) != dataKey.SignatureSize() {
		return fmt.Errorf("preamble: signature is %d bytes, key needs %d",
			p.Sig.SigSize, dataKey.SignatureSize())
	}
	off := uint64(preSigOffset) + p.Sig.SigOffset
	return dataKey.Verify(p.raw[:p.Sig.DataSize], p.raw[off:off+p.Sig.SigSize])
}

// VerifyBody checks the kernel body's content signature against the
// keyblock's data key. body must hold at least the signed length.
func (p *Preamble) VerifyBody(body []byte, dataKey *sig.Key) error {
	if p.BodySig.DataSize > uint64(len(body)) {
		return fmt.Errorf("preamble: body signature covers %d bytes, only %d loaded",
			p.BodySig.DataSize, len(body))
	}
	if int(p.BodySig.SigSize) != dataKey.SignatureSize() {
		return fmt.Errorf("preamble: body signature is %d bytes, key needs %d",
			p.BodySig.SigSize, dataKey.SignatureSize())
	}
	off := uint64(preBodySigOffset) + p.BodySig.SigOffset
	return dataKey.Verify(body[:p.BodySig.DataSize], p.raw[off:off+p.BodySig.SigSize])
}
