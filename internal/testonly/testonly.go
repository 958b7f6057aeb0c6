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

// Package testonly builds signed kernel images for tests: packed keys,
// keyblocks, preambles and whole candidate partitions, plus an in-memory
// disk.
package testonly

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/transparency-dev/armored-kernel-boot/sig"
	"github.com/transparency-dev/armored-kernel-boot/vblock"
)

// NewRSAKey generates a throwaway RSA key of the given size.
func NewRSAKey(t *testing.T, bits int) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

// PackKeyBody encodes an RSA public key in the packed key body format: word
// count, Montgomery n0inv, modulus words and Montgomery residues, all
// little-endian 32-bit words.
func PackKeyBody(pub *rsa.PublicKey) []byte {
	bits := pub.N.BitLen()
	words := uint32(bits / 32)

	body := make([]byte, 8+words*8)
	binary.LittleEndian.PutUint32(body[0:], words)
	binary.LittleEndian.PutUint32(body[4:], n0inv(pub.N))

	// Modulus, least significant word first.
	be := pub.N.FillBytes(make([]byte, words*4))
	for i := uint32(0); i < words; i++ {
		w := binary.BigEndian.Uint32(be[(words-1-i)*4:])
		binary.LittleEndian.PutUint32(body[8+i*4:], w)
	}

	// Montgomery residue rr = 2^(2*bits) mod n.
	rr := new(big.Int).Lsh(big.NewInt(1), uint(2*bits))
	rr.Mod(rr, pub.N)
	beRR := rr.FillBytes(make([]byte, words*4))
	for i := uint32(0); i < words; i++ {
		w := binary.BigEndian.Uint32(beRR[(words-1-i)*4:])
		binary.LittleEndian.PutUint32(body[8+uint64(words)*4+uint64(i)*4:], w)
	}

	return body
}

// n0inv returns -n^-1 mod 2^32 for an odd modulus n.
func n0inv(n *big.Int) uint32 {
	m := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(n, m)
	inv := new(big.Int).ModInverse(n0, m)
	if inv == nil {
		return 0
	}
	inv.Neg(inv).Mod(inv, m)
	return uint32(inv.Uint64())
}

// PackKey encodes a full packed key record: 32-byte header followed by the
// key body.
func PackKey(pub *rsa.PublicKey, alg sig.Algorithm, version uint32) []byte {
	body := PackKeyBody(pub)
	rec := make([]byte, 32+len(body))
	binary.LittleEndian.PutUint64(rec[0:], 32) // key_offset
	binary.LittleEndian.PutUint64(rec[8:], uint64(len(body)))
	binary.LittleEndian.PutUint64(rec[16:], uint64(alg))
	binary.LittleEndian.PutUint64(rec[24:], uint64(version))
	copy(rec[32:], body)
	return rec
}

// Sign returns the PKCS#1 v1.5 signature of data under the algorithm's
// digest.
func Sign(t *testing.T, key *rsa.PrivateKey, alg sig.Algorithm, data []byte) []byte {
	t.Helper()
	digest := sig.Digest(alg.Hash(), data)
	s, err := rsa.SignPKCS1v15(rand.Reader, key, alg.Hash(), digest)
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	return s
}

func putSignature(buf []byte, desc int, s vblock.Signature) {
	binary.LittleEndian.PutUint64(buf[desc:], s.SigOffset)
	binary.LittleEndian.PutUint64(buf[desc+8:], s.SigSize)
	binary.LittleEndian.PutUint64(buf[desc+16:], s.DataSize)
}

// KeyblockOpts configures BuildKeyblock.
type KeyblockOpts struct {
	// Flags is the keyblock flags word. Zero means "bootable in every
	// mode" (both developer and both recovery bits).
	Flags uint64

	// DataPub is the embedded data-signing key, with its algorithm and
	// version.
	DataPub     *rsa.PublicKey
	DataAlg     sig.Algorithm
	DataVersion uint32

	// SignKey signs the keyblock with SignAlg. A nil SignKey leaves a
	// garbage signature, producing a hash-only keyblock.
	SignKey *rsa.PrivateKey
	SignAlg sig.Algorithm

	// CorruptHash flips a byte of the self-describing digest.
	CorruptHash bool
	// CorruptSig flips a byte of the signature after signing.
	CorruptSig bool
}

// BuildKeyblock assembles and signs a keyblock.
func BuildKeyblock(t *testing.T, o KeyblockOpts) []byte {
	t.Helper()

	if o.Flags == 0 {
		o.Flags = vblock.KeyblockFlagDeveloper0 | vblock.KeyblockFlagDeveloper1 |
			vblock.KeyblockFlagRecovery0 | vblock.KeyblockFlagRecovery1
	}

	keyBody := PackKeyBody(o.DataPub)
	sigSize := o.SignAlg.KeyBits() / 8
	const hashSize = 64 // SHA-512

	bodyOff := vblock.KeyblockHeaderSize
	sigOff := bodyOff + len(keyBody)
	hashOff := sigOff + sigSize
	total := hashOff + hashSize
	dataSize := uint64(sigOff) // header + key data

	kb := make([]byte, total)
	copy(kb[0:], vblock.Magic)
	binary.LittleEndian.PutUint32(kb[8:], 2)  // header_version_major
	binary.LittleEndian.PutUint32(kb[12:], 1) // header_version_minor
	binary.LittleEndian.PutUint64(kb[16:], uint64(total))
	putSignature(kb, 24, vblock.Signature{
		SigOffset: uint64(sigOff) - 24,
		SigSize:   uint64(sigSize),
		DataSize:  dataSize,
	})
	putSignature(kb, 48, vblock.Signature{
		SigOffset: uint64(hashOff) - 48,
		SigSize:   hashSize,
		DataSize:  dataSize,
	})
	binary.LittleEndian.PutUint64(kb[72:], o.Flags)
	// Embedded data key record: body immediately follows the header.
	binary.LittleEndian.PutUint64(kb[80:], uint64(bodyOff-80))
	binary.LittleEndian.PutUint64(kb[88:], uint64(len(keyBody)))
	binary.LittleEndian.PutUint64(kb[96:], uint64(o.DataAlg))
	binary.LittleEndian.PutUint64(kb[104:], uint64(o.DataVersion))
	copy(kb[bodyOff:], keyBody)

	if o.SignKey != nil {
		copy(kb[sigOff:], Sign(t, o.SignKey, o.SignAlg, kb[:dataSize]))
	}
	if o.CorruptSig {
		kb[sigOff] ^= 0x01
	}

	digest := sig.Digest(crypto.SHA512, kb[:dataSize])
	copy(kb[hashOff:], digest)
	if o.CorruptHash {
		kb[hashOff] ^= 0x01
	}

	return kb
}

// PreambleOpts configures BuildPreamble.
type PreambleOpts struct {
	KernelVersion     uint64
	BodyLoadAddress   uint64
	BootloaderAddress uint64
	BootloaderSize    uint64
	Flags             uint32

	// Body is the kernel body covered by the body signature.
	Body []byte

	// DataKey signs the preamble and the body with DataAlg.
	DataKey *rsa.PrivateKey
	DataAlg sig.Algorithm

	// PadTo, when non-zero, pads the preamble to the given size.
	PadTo uint64

	// CorruptBodySig flips a byte of the body signature.
	CorruptBodySig bool
}

// BuildPreamble assembles and signs a kernel preamble (format 2.2).
func BuildPreamble(t *testing.T, o PreambleOpts) []byte {
	t.Helper()

	const fixed = 116
	sigSize := o.DataAlg.KeyBits() / 8

	bodySigOff := fixed
	preSigOff := bodySigOff + sigSize
	total := uint64(preSigOff + sigSize)
	if o.PadTo > total {
		total = o.PadTo
	}
	dataSize := uint64(bodySigOff + sigSize) // header + body signature blob

	p := make([]byte, total)
	binary.LittleEndian.PutUint64(p[0:], total)
	putSignature(p, 8, vblock.Signature{
		SigOffset: uint64(preSigOff) - 8,
		SigSize:   uint64(sigSize),
		DataSize:  dataSize,
	})
	binary.LittleEndian.PutUint32(p[32:], 2) // header_version_major
	binary.LittleEndian.PutUint32(p[36:], 2) // header_version_minor
	binary.LittleEndian.PutUint64(p[40:], o.KernelVersion)
	binary.LittleEndian.PutUint64(p[48:], o.BodyLoadAddress)
	binary.LittleEndian.PutUint64(p[56:], o.BootloaderAddress)
	binary.LittleEndian.PutUint64(p[64:], o.BootloaderSize)
	putSignature(p, 72, vblock.Signature{
		SigOffset: uint64(bodySigOff) - 72,
		SigSize:   uint64(sigSize),
		DataSize:  uint64(len(o.Body)),
	})
	binary.LittleEndian.PutUint32(p[112:], o.Flags)

	copy(p[bodySigOff:], Sign(t, o.DataKey, o.DataAlg, o.Body))
	if o.CorruptBodySig {
		p[bodySigOff] ^= 0x01
	}

	copy(p[preSigOff:], Sign(t, o.DataKey, o.DataAlg, p[:dataSize]))

	return p
}
