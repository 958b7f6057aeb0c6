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

// Package tbs exposes the trusted-boot-state digests recorded for
// attestation. The digest is SHA1(developer byte | recovery byte | keyblock
// mode byte), where keyblock mode is 1 for normally signed firmware and 0 in
// recovery. Only four states exist, so the digests are a closed lookup.
package tbs

// DigestSize is the size of a boot-state digest in bytes.
const DigestSize = 20

// Index is (recovery << 1) | developer.
var bootStateDigests = [4][DigestSize]byte{
	// SHA1(0x00|0x00|0x01)
	{0x25, 0x47, 0xcc, 0x73, 0x6e, 0x95, 0x1f, 0xa4, 0x91, 0x98, 0x53, 0xc4,
		0x3a, 0xe8, 0x90, 0x86, 0x1a, 0x3b, 0x32, 0x64},

	// SHA1(0x01|0x00|0x01)
	{0xc4, 0x2a, 0xc1, 0xc4, 0x6f, 0x1d, 0x4e, 0x21, 0x1c, 0x73, 0x5c, 0xc7,
		0xdf, 0xad, 0x4f, 0xf8, 0x39, 0x11, 0x10, 0xe9},

	// SHA1(0x00|0x01|0x00)
	{0x62, 0x57, 0x18, 0x91, 0x21, 0x5b, 0x4e, 0xfc, 0x1c, 0xea, 0xb7, 0x44,
		0xce, 0x59, 0xdd, 0x0b, 0x66, 0xea, 0x6f, 0x73},

	// SHA1(0x01|0x01|0x00)
	{0x47, 0xec, 0x8d, 0x98, 0x36, 0x64, 0x33, 0xdc, 0x00, 0x2e, 0x77, 0x21,
		0xc9, 0xe3, 0x7d, 0x50, 0x67, 0x54, 0x79, 0x37},
}

// BootStateDigest returns the attestation digest for the given boot mode
// bits.
func BootStateDigest(developer, recovery bool) []byte {
	i := 0
	if developer {
		i |= 1
	}
	if recovery {
		i |= 2
	}
	d := make([]byte, DigestSize)
	copy(d, bootStateDigests[i][:])
	return d
}
