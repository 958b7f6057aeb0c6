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

package vblock_test

import (
	"crypto/rsa"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparency-dev/armored-kernel-boot/internal/testonly"
	"github.com/transparency-dev/armored-kernel-boot/sig"
	"github.com/transparency-dev/armored-kernel-boot/vblock"
)

const testAlg = sig.RSA1024SHA256

type fixture struct {
	subkeyPriv  *rsa.PrivateKey
	subkey      *sig.Key
	dataKeyPriv *rsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		subkeyPriv:  testonly.NewRSAKey(t, 1024),
		dataKeyPriv: testonly.NewRSAKey(t, 1024),
	}
	k, err := sig.UnpackKey(testonly.PackKey(&f.subkeyPriv.PublicKey, testAlg, 1))
	require.NoError(t, err)
	f.subkey = k
	return f
}

func (f *fixture) keyblock(t *testing.T, o testonly.KeyblockOpts) []byte {
	t.Helper()
	if o.DataPub == nil {
		o.DataPub = &f.dataKeyPriv.PublicKey
		o.DataAlg = testAlg
	}
	if o.SignKey == nil {
		o.SignKey = f.subkeyPriv
		o.SignAlg = testAlg
	}
	return testonly.BuildKeyblock(t, o)
}

func TestParseKeyblock(t *testing.T) {
	f := newFixture(t)
	kb := f.keyblock(t, testonly.KeyblockOpts{})

	parsed, err := vblock.ParseKeyblock(kb)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(kb)), parsed.Size)
	assert.EqualValues(t, 0xf, parsed.Flags)
	assert.Equal(t, uint32(0), parsed.DataKeyVersion())
}

func TestParseKeyblockMalformed(t *testing.T) {
	f := newFixture(t)
	good := f.keyblock(t, testonly.KeyblockOpts{})

	mutate := func(f func([]byte)) []byte {
		kb := append([]byte(nil), good...)
		f(kb)
		return kb
	}

	for _, test := range []struct {
		name string
		kb   []byte
	}{
		{"truncated", good[:64]},
		{"bad magic", mutate(func(b []byte) { b[0] = 'X' })},
		{"bad major version", mutate(func(b []byte) {
			binary.LittleEndian.PutUint32(b[8:], 3)
		})},
		{"self-described size exceeds buffer", mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[16:], uint64(len(b))+1)
		})},
		{"signature blob outside keyblock", mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[24:], 1<<40)
		})},
		{"data key outside keyblock", mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[88:], 1<<40)
		})},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := vblock.ParseKeyblock(test.kb)
			assert.Error(t, err)
		})
	}
}

func TestKeyblockSignature(t *testing.T) {
	f := newFixture(t)

	kb, err := vblock.ParseKeyblock(f.keyblock(t, testonly.KeyblockOpts{}))
	require.NoError(t, err)
	assert.NoError(t, kb.VerifySignature(f.subkey))
	assert.NoError(t, kb.VerifyHash())

	// A tampered signature fails verification but leaves the digest path
	// intact.
	kb, err = vblock.ParseKeyblock(f.keyblock(t, testonly.KeyblockOpts{CorruptSig: true}))
	require.NoError(t, err)
	assert.Error(t, kb.VerifySignature(f.subkey))
	assert.NoError(t, kb.VerifyHash())

	// A tampered digest fails the hash path.
	kb, err = vblock.ParseKeyblock(f.keyblock(t, testonly.KeyblockOpts{CorruptHash: true}))
	require.NoError(t, err)
	assert.Error(t, kb.VerifyHash())
}

func TestKeyblockSignatureWrongKey(t *testing.T) {
	f := newFixture(t)
	other := testonly.NewRSAKey(t, 1024)
	otherKey, err := sig.UnpackKey(testonly.PackKey(&other.PublicKey, testAlg, 1))
	require.NoError(t, err)

	kb, err := vblock.ParseKeyblock(f.keyblock(t, testonly.KeyblockOpts{}))
	require.NoError(t, err)
	assert.Error(t, kb.VerifySignature(otherKey))
}

func TestUnpackDataKey(t *testing.T) {
	f := newFixture(t)
	kb, err := vblock.ParseKeyblock(f.keyblock(t, testonly.KeyblockOpts{DataVersion: 5}))
	require.NoError(t, err)

	assert.Equal(t, uint32(5), kb.DataKeyVersion())

	dk, err := kb.UnpackDataKey()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), dk.Version)
	assert.Equal(t, testAlg, dk.Algorithm)
}

func TestPreamble(t *testing.T) {
	f := newFixture(t)
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i)
	}

	raw := testonly.BuildPreamble(t, testonly.PreambleOpts{
		KernelVersion:     9,
		BodyLoadAddress:   0x100000,
		BootloaderAddress: 0x101000,
		BootloaderSize:    0x800,
		Flags:             0x2,
		Body:              body,
		DataKey:           f.dataKeyPriv,
		DataAlg:           testAlg,
	})

	p, err := vblock.ParsePreamble(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), p.KernelVersion)
	assert.Equal(t, uint64(0x100000), p.BodyLoadAddress)
	assert.Equal(t, uint64(0x101000), p.BootloaderAddress)
	assert.Equal(t, uint64(0x800), p.BootloaderSize)
	assert.Equal(t, uint32(0x2), p.Flags())
	assert.Equal(t, uint64(len(body)), p.BodySig.DataSize)

	dk, err := sig.UnpackKey(testonly.PackKey(&f.dataKeyPriv.PublicKey, testAlg, 0))
	require.NoError(t, err)

	assert.NoError(t, p.Verify(dk))
	assert.NoError(t, p.VerifyBody(body, dk))

	// Tampered body.
	body[100] ^= 0x01
	assert.Error(t, p.VerifyBody(body, dk))
}

func TestPreambleMalformed(t *testing.T) {
	f := newFixture(t)
	good := testonly.BuildPreamble(t, testonly.PreambleOpts{
		Body:    []byte("body"),
		DataKey: f.dataKeyPriv,
		DataAlg: testAlg,
	})

	mutate := func(fn func([]byte)) []byte {
		p := append([]byte(nil), good...)
		fn(p)
		return p
	}

	for _, test := range []struct {
		name string
		raw  []byte
	}{
		{"truncated", good[:80]},
		{"bad major version", mutate(func(b []byte) {
			binary.LittleEndian.PutUint32(b[32:], 1)
		})},
		{"self-described size exceeds buffer", mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[0:], uint64(len(b))+1)
		})},
		{"body signature blob outside preamble", mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[72:], 1<<40)
		})},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := vblock.ParsePreamble(test.raw)
			assert.Error(t, err)
		})
	}
}

func TestPreamblePadding(t *testing.T) {
	f := newFixture(t)
	raw := testonly.BuildPreamble(t, testonly.PreambleOpts{
		Body:    []byte("body"),
		DataKey: f.dataKeyPriv,
		DataAlg: testAlg,
		PadTo:   8192,
	})
	require.Len(t, raw, 8192)

	p, err := vblock.ParsePreamble(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), p.Size)

	dk, err := sig.UnpackKey(testonly.PackKey(&f.dataKeyPriv.PublicKey, testAlg, 0))
	require.NoError(t, err)
	assert.NoError(t, p.Verify(dk))
}
