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

package sig_test

import (
	"crypto"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparency-dev/armored-kernel-boot/internal/testonly"
	"github.com/transparency-dev/armored-kernel-boot/sig"
)

func TestAlgorithm(t *testing.T) {
	assert.Equal(t, 1024, sig.RSA1024SHA1.KeyBits())
	assert.Equal(t, 2048, sig.RSA2048SHA512.KeyBits())
	assert.Equal(t, 4096, sig.RSA4096SHA256.KeyBits())
	assert.Equal(t, 8192, sig.RSA8192SHA512.KeyBits())

	assert.Equal(t, crypto.SHA1, sig.RSA2048SHA1.Hash())
	assert.Equal(t, crypto.SHA256, sig.RSA2048SHA256.Hash())
	assert.Equal(t, crypto.SHA512, sig.RSA2048SHA512.Hash())

	assert.True(t, sig.RSA8192SHA512.Valid())
	assert.False(t, sig.Algorithm(12).Valid())
}

func TestUnpackKey(t *testing.T) {
	key := testonly.NewRSAKey(t, 1024)
	rec := testonly.PackKey(&key.PublicKey, sig.RSA1024SHA256, 7)

	k, err := sig.UnpackKey(rec)
	require.NoError(t, err)
	assert.Equal(t, sig.RSA1024SHA256, k.Algorithm)
	assert.Equal(t, uint32(7), k.Version)
	assert.Equal(t, 128, k.SignatureSize())
}

func TestUnpackKeyMalformed(t *testing.T) {
	key := testonly.NewRSAKey(t, 1024)
	good := testonly.PackKey(&key.PublicKey, sig.RSA1024SHA256, 1)

	mutate := func(f func(rec []byte)) []byte {
		rec := append([]byte(nil), good...)
		f(rec)
		return rec
	}

	for _, test := range []struct {
		name string
		rec  []byte
	}{
		{"truncated header", good[:16]},
		{"bad algorithm", mutate(func(r []byte) {
			binary.LittleEndian.PutUint64(r[16:], 99)
		})},
		{"key body outside record", mutate(func(r []byte) {
			binary.LittleEndian.PutUint64(r[8:], 1<<40)
		})},
		{"offset overflow", mutate(func(r []byte) {
			binary.LittleEndian.PutUint64(r[0:], ^uint64(0))
		})},
		{"word count mismatch", mutate(func(r []byte) {
			binary.LittleEndian.PutUint32(r[32:], 64)
		})},
		{"truncated body", good[:48]},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := sig.UnpackKey(test.rec)
			assert.Error(t, err)
		})
	}
}

func TestVerify(t *testing.T) {
	key := testonly.NewRSAKey(t, 1024)
	rec := testonly.PackKey(&key.PublicKey, sig.RSA1024SHA256, 1)
	k, err := sig.UnpackKey(rec)
	require.NoError(t, err)

	data := []byte("kernel body bytes")
	s := testonly.Sign(t, key, sig.RSA1024SHA256, data)

	require.NoError(t, k.Verify(data, s))

	// Flipping any single byte of the signature must flip the verdict.
	for i := 0; i < len(s); i += 17 {
		bad := append([]byte(nil), s...)
		bad[i] ^= 0x01
		assert.Error(t, k.Verify(data, bad), "byte %d", i)
	}

	// And so must tampering with the data.
	data[0] ^= 0x01
	assert.Error(t, k.Verify(data, s))
}

func TestSafeCompare(t *testing.T) {
	assert.True(t, sig.SafeCompare([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.False(t, sig.SafeCompare([]byte{1, 2, 3}, []byte{1, 2, 4}))
	assert.False(t, sig.SafeCompare([]byte{1, 2, 3}, []byte{1, 2}))
}
