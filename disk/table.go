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

package disk

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Partition configures one StaticTable entry: a kernel partition extent with
// its attempt state.
type Partition struct {
	// GUID identifies the partition. A zero GUID is allowed.
	GUID uuid.UUID
	// Start and Size delimit the partition extent in sectors.
	Start uint64
	Size  uint64
	// Priority orders candidates; entries with priority zero are never
	// offered. Higher is tried first, ties break on table order.
	Priority int
	// Tries is the number of boot attempts remaining for an entry that
	// has not yet booted successfully.
	Tries int
	// Successful records that the entry has booted successfully before;
	// such entries are offered regardless of Tries.
	Successful bool
}

// StaticTable is an in-memory Table over an explicit partition list. It
// follows the selection and update semantics of the firmware's partition
// table: candidates are offered in descending priority while they are
// bootable, a Try consumes one attempt, going bad zeroes the entry out.
type StaticTable struct {
	parts []Partition

	order   []int
	scanPos int
	current int

	dirty  bool
	commit func([]Partition) error
}

// NewStaticTable returns a table over the given partitions. The commit
// function, which may be nil, is called by WriteBack with the updated
// attempt state.
func NewStaticTable(parts []Partition, commit func([]Partition) error) *StaticTable {
	t := &StaticTable{
		parts:   append([]Partition(nil), parts...),
		current: -1,
		commit:  commit,
	}

	for i := range t.parts {
		if t.bootable(i) {
			t.order = append(t.order, i)
		}
	}
	sort.SliceStable(t.order, func(a, b int) bool {
		return t.parts[t.order[a]].Priority > t.parts[t.order[b]].Priority
	})

	return t
}

func (t *StaticTable) bootable(i int) bool {
	p := &t.parts[i]
	return p.Priority > 0 && (p.Successful || p.Tries > 0)
}

// Next implements Table.
func (t *StaticTable) Next() (*Entry, bool) {
	for t.scanPos < len(t.order) {
		i := t.order[t.scanPos]
		t.scanPos++
		if !t.bootable(i) {
			// Went bad since the order was computed.
			continue
		}
		t.current = i
		p := &t.parts[i]
		return &Entry{
			Index: i + 1,
			GUID:  p.GUID,
			Start: p.Start,
			Size:  p.Size,
		}, true
	}
	t.current = -1
	return nil, false
}

// Update implements Table.
func (t *StaticTable) Update(m Mark) {
	if t.current < 0 {
		return
	}
	p := &t.parts[t.current]

	switch m {
	case MarkBad:
		p.Priority = 0
		p.Tries = 0
		p.Successful = false
	case MarkTry:
		if p.Successful {
			break
		}
		if p.Tries > 0 {
			p.Tries--
		}
		if p.Tries == 0 {
			p.Priority = 0
		}
	default:
		klog.Warningf("Ignoring unknown partition table mark %d", m)
		return
	}
	t.dirty = true
}

// WriteBack implements Table.
func (t *StaticTable) WriteBack() error {
	if t.commit == nil || !t.dirty {
		return nil
	}
	if err := t.commit(append([]Partition(nil), t.parts...)); err != nil {
		return fmt.Errorf("disk: partition table write-back: %v", err)
	}
	t.dirty = false
	return nil
}

// Partitions returns a copy of the table's current partition state.
func (t *StaticTable) Partitions() []Partition {
	return append([]Partition(nil), t.parts...)
}

// StaticSource is a TableSource yielding a fresh StaticTable per open.
type StaticSource struct {
	// Partitions configures the table.
	Partitions []Partition
	// Commit, which may be nil, receives attempt-state updates on
	// write-back.
	Commit func([]Partition) error
}

// Open implements TableSource. The table arrives parsed, so an external
// table location changes nothing beyond the extent checks below, which
// always run against the disk holding the kernels.
func (s *StaticSource) Open(d Disk, external bool) (Table, error) {
	if external {
		klog.V(2).Info("Partition table held on an external device")
	}
	for _, p := range s.Partitions {
		if p.Start > d.Sectors() || p.Size > d.Sectors()-p.Start {
			return nil, fmt.Errorf("disk: partition [%d,+%d) outside %d sector disk",
				p.Start, p.Size, d.Sectors())
		}
	}
	return NewStaticTable(s.Partitions, s.Commit), nil
}
