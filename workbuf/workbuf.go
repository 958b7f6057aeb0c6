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

// Package workbuf implements a fixed-capacity bump allocator.
//
// Allocations are carved from a single caller-provided arena and are never
// freed individually; the allocation cursor is rewound in bulk via
// checkpoints. Exhaustion is a hard failure, callers must not treat it as a
// retry condition.
package workbuf

import "fmt"

// Align is the alignment, in bytes, of every allocation.
const Align = 8

// Buf is a bump-allocated scratch arena.
//
// A Buf is exclusively owned by a single call chain; it is not safe for
// concurrent use.
type Buf struct {
	mem  []byte
	used int
}

// Checkpoint is a snapshot of the allocation cursor, obtained from
// Buf.Checkpoint and restored with Buf.Rollback.
type Checkpoint int

// New returns an arena with the given capacity in bytes.
func New(size int) *Buf {
	return &Buf{mem: make([]byte, size)}
}

// Alloc carves n zeroed bytes out of the arena.
func (b *Buf) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("workbuf: invalid allocation size %d", n)
	}
	if n > b.Remaining() {
		return nil, fmt.Errorf("workbuf: need %d bytes, %d available", n, b.Remaining())
	}
	p := b.mem[b.used : b.used+n : b.used+n]
	for i := range p {
		p[i] = 0
	}
	b.used += align(n)
	if b.used > len(b.mem) {
		b.used = len(b.mem)
	}
	return p, nil
}

// Remaining returns the number of bytes still available for allocation.
func (b *Buf) Remaining() int {
	return len(b.mem) - b.used
}

// Used returns the number of bytes consumed so far, including alignment
// padding.
func (b *Buf) Used() int {
	return b.used
}

// Checkpoint snapshots the current allocation cursor.
func (b *Buf) Checkpoint() Checkpoint {
	return Checkpoint(b.used)
}

// Rollback rewinds the allocation cursor to a previously taken checkpoint,
// releasing every allocation made since. Allocations handed out after the
// checkpoint must no longer be referenced.
func (b *Buf) Rollback(c Checkpoint) {
	if int(c) < 0 || int(c) > b.used {
		return
	}
	b.used = int(c)
}

func align(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}
