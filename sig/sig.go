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

// Package sig implements the signature and digest primitives consumed by the
// kernel verification engine: packed RSA public key records, PKCS#1 v1.5
// signature verification and the digest algorithms bound to each key.
//
// The packed key wire format is the one used by existing signed kernel
// images: a 32-byte header of little-endian 64-bit slots followed by the key
// body (modulus word count, Montgomery n0inv, modulus words and Montgomery
// residues, all little-endian). Verification uses the parsed modulus with
// the fixed public exponent, the precomputed Montgomery constants are
// carried by the format but not needed here.
package sig

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Algorithm identifies the RSA key size and digest algorithm pair bound to a
// packed key. The numeric values are part of the wire format.
type Algorithm uint64

const (
	RSA1024SHA1 Algorithm = iota
	RSA1024SHA256
	RSA1024SHA512
	RSA2048SHA1
	RSA2048SHA256
	RSA2048SHA512
	RSA4096SHA1
	RSA4096SHA256
	RSA4096SHA512
	RSA8192SHA1
	RSA8192SHA256
	RSA8192SHA512

	algCount
)

// PublicExponent is the RSA public exponent used by every packed key.
const PublicExponent = 65537

// packedKeyHeaderSize is the size of the packed key record header: offset,
// size, algorithm and version, each in a 64-bit slot.
const packedKeyHeaderSize = 32

// maxKeySize bounds the self-described key body size to keep malformed
// records from driving large allocations.
const maxKeySize = 8192/8*2 + 8

var errMalformedKey = errors.New("malformed packed key")

// Valid reports whether the algorithm identifier is one of the closed set.
func (a Algorithm) Valid() bool {
	return a < algCount
}

// KeyBits returns the RSA modulus size in bits.
func (a Algorithm) KeyBits() int {
	switch a / 3 {
	case 0:
		return 1024
	case 1:
		return 2048
	case 2:
		return 4096
	default:
		return 8192
	}
}

// Hash returns the digest algorithm paired with the key.
func (a Algorithm) Hash() crypto.Hash {
	switch a % 3 {
	case 0:
		return crypto.SHA1
	case 1:
		return crypto.SHA256
	default:
		return crypto.SHA512
	}
}

func (a Algorithm) String() string {
	if !a.Valid() {
		return fmt.Sprintf("invalid algorithm %d", uint64(a))
	}
	return fmt.Sprintf("RSA%d/%s", a.KeyBits(), a.Hash())
}

// Key is an unpacked public key ready for signature verification.
type Key struct {
	Algorithm Algorithm
	Version   uint32

	rsa rsa.PublicKey
}

// UnpackKey parses a packed key record starting at buf[0]. The record's
// offset and size fields are validated against len(buf); a record whose key
// body lies outside the buffer is rejected.
func UnpackKey(buf []byte) (*Key, error) {
	if len(buf) < packedKeyHeaderSize {
		return nil, fmt.Errorf("%w: %d byte record", errMalformedKey, len(buf))
	}

	keyOffset := binary.LittleEndian.Uint64(buf[0:])
	keySize := binary.LittleEndian.Uint64(buf[8:])
	algorithm := Algorithm(binary.LittleEndian.Uint64(buf[16:]))
	keyVersion := binary.LittleEndian.Uint64(buf[24:])

	if !algorithm.Valid() {
		return nil, fmt.Errorf("%w: %s", errMalformedKey, algorithm)
	}

	if keySize > maxKeySize {
		return nil, fmt.Errorf("%w: key size %d exceeds limit", errMalformedKey, keySize)
	}

	if keyOffset > uint64(len(buf)) || keySize > uint64(len(buf))-keyOffset {
		return nil, fmt.Errorf("%w: key body [%d,+%d) outside %d byte buffer",
			errMalformedKey, keyOffset, keySize, len(buf))
	}

	n, err := parseModulus(buf[keyOffset:keyOffset+keySize], algorithm.KeyBits())
	if err != nil {
		return nil, err
	}

	return &Key{
		Algorithm: algorithm,
		Version:   uint32(keyVersion),
		rsa: rsa.PublicKey{
			N: n,
			E: PublicExponent,
		},
	}, nil
}

// parseModulus extracts the RSA modulus from a packed key body. The body
// carries the modulus word count, the Montgomery n0inv constant, the modulus
// in little-endian 32-bit words and the Montgomery residues; only the
// modulus is needed.
func parseModulus(body []byte, wantBits int) (*big.Int, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: %d byte key body", errMalformedKey, len(body))
	}

	words := binary.LittleEndian.Uint32(body[0:])
	if int(words)*32 != wantBits {
		return nil, fmt.Errorf("%w: %d modulus words, want %d bit key", errMalformedKey, words, wantBits)
	}
	if uint64(len(body)) < 8+uint64(words)*8 {
		return nil, fmt.Errorf("%w: truncated key body", errMalformedKey)
	}

	// Little-endian words to big-endian bytes.
	be := make([]byte, words*4)
	for i := uint32(0); i < words; i++ {
		w := binary.LittleEndian.Uint32(body[8+i*4:])
		binary.BigEndian.PutUint32(be[(words-1-i)*4:], w)
	}
	n := new(big.Int).SetBytes(be)
	if n.BitLen() != wantBits {
		return nil, fmt.Errorf("%w: modulus is %d bits, want %d", errMalformedKey, n.BitLen(), wantBits)
	}

	return n, nil
}

// Verify checks sig over data using the key's algorithm. It returns nil only
// when the signature is cryptographically valid.
func (k *Key) Verify(data, sig []byte) error {
	digest := Digest(k.Algorithm.Hash(), data)
	return rsa.VerifyPKCS1v15(&k.rsa, k.Algorithm.Hash(), digest, sig)
}

// SignatureSize returns the expected signature length in bytes for this key.
func (k *Key) SignatureSize() int {
	return k.Algorithm.KeyBits() / 8
}

// Digest returns the digest of data under the given hash algorithm.
func Digest(h crypto.Hash, data []byte) []byte {
	switch h {
	case crypto.SHA1:
		d := sha1.Sum(data)
		return d[:]
	case crypto.SHA256:
		d := sha256.Sum256(data)
		return d[:]
	case crypto.SHA512:
		d := sha512.Sum512(data)
		return d[:]
	}
	return nil
}

// SafeCompare reports whether a and b are equal, in time independent of
// their contents.
func SafeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
