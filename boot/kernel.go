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
	"fmt"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-kernel-boot/disk"
)

// lowestVersionUnset marks that no validly signed candidate has contributed
// a version yet.
const lowestVersionUnset = 0xffffffff

// LoadKernel scans the candidate kernel partitions of d, verifies and loads
// exactly one kernel into params, and commits the updated rollback floor and
// partition attempt state.
//
// Per-candidate verification or read failures mark the partition bad and the
// scan continues; they never abort the boot on their own. The returned error
// is nil on success, or wraps one of the closed result codes — terminally
// ErrInvalidKernelFound when candidates existed but none validated, and
// ErrNoKernelFound when the table yielded no kernel candidates or could not
// be read at all.
func LoadKernel(c *Context, d disk.Disk, src disk.TableSource, params *Params) error {
	floor, err := c.Secdata.KernelVersion()
	if err != nil {
		return fmt.Errorf("reading version floor: %v", err)
	}
	c.Shared.KernelVersionSecdata = floor

	// Clear outputs in case we fail.
	params.PartitionNumber = 0
	params.KernelVersion = 0
	params.KernelSigned = false
	params.BootloaderAddress = 0
	params.BootloaderSize = 0
	params.Flags = 0

	// The new floor is the minimum version across all officially signed
	// candidates, not the winner's own: any signed candidate below the
	// winner must still be protected against regression.
	lowest := uint32(lowestVersionUnset)

	table, err := src.Open(d, c.Flags&FlagExternalGPT != 0)
	if err != nil {
		klog.Warningf("Unable to read partition table: %v", err)
		return fmt.Errorf("%w: %v", ErrNoKernelFound, err)
	}

	found := 0
	var scanErrs *multierror.Error

	for {
		entry, ok := table.Next()
		if !ok {
			break
		}
		found++

		klog.V(2).Infof("Found kernel entry %d at %d size %d", entry.Index, entry.Start, entry.Size)

		stream, err := d.OpenStream(entry.Start, entry.Size)
		if err != nil {
			klog.V(2).Infof("Partition %d: error getting stream: %v", entry.Index, err)
			scanErrs = multierror.Append(scanErrs, fmt.Errorf("partition %d: %w", entry.Index, err))
			table.Update(disk.MarkBad)
			continue
		}

		// Once a kernel has been accepted, later candidates only need
		// their versions inspected for an eventual floor raise.
		var lf loadFlags
		if params.PartitionNumber > 0 {
			lf |= loadVblockOnly
		}

		cp := c.Workbuf.Checkpoint()
		err = c.loadPartition(stream, lf, params)
		c.Workbuf.Rollback(cp)

		if cErr := stream.Close(); cErr != nil {
			klog.Warningf("Partition %d: closing stream: %v", entry.Index, cErr)
		}

		if err != nil {
			klog.V(2).Infof("Partition %d invalid: %v", entry.Index, err)
			scanErrs = multierror.Append(scanErrs, fmt.Errorf("partition %d: %w", entry.Index, err))
			table.Update(disk.MarkBad)
			continue
		}

		signed := c.Shared.KernelSigned
		if signed && c.Shared.KernelVersion < lowest {
			lowest = c.Shared.KernelVersion
		}
		klog.V(2).Infof("Partition %d version %#x signed %t", entry.Index, c.Shared.KernelVersion, signed)

		if lf&loadVblockOnly != 0 {
			continue
		}

		// First accepted candidate: the provisional winner.
		params.PartitionNumber = entry.Index
		params.PartitionGUID = entry.GUID
		params.KernelVersion = c.Shared.KernelVersion
		params.KernelSigned = signed

		// Consume an attempt, unless this boot may be deliberately
		// interrupted.
		if c.Flags&FlagNofailBoot == 0 {
			table.Update(disk.MarkTry)
		}

		// Without rollback protection there is nothing more to learn
		// from the remaining partitions.
		if c.BootMode() == ModeRecovery || !signed {
			klog.V(2).Info("Recovery mode or self-signed kernel, stopping scan")
			break
		}

		// A winner already at the floor cannot change the outcome
		// either.
		if c.Shared.KernelVersion == c.Shared.KernelVersionSecdata {
			klog.V(2).Info("Kernel version matches floor, stopping scan")
			break
		}
	}

	// Attempt state is persisted regardless of outcome, so an interrupted
	// boot converges on the next one.
	if err := table.WriteBack(); err != nil {
		klog.Warningf("Partition table write-back failed: %v", err)
	}

	if params.PartitionNumber > 0 {
		klog.Infof("Good partition %d", params.PartitionNumber)

		// Raise the floor only to a version actually observed, and
		// never lower it. The sentinel means no signed candidate was
		// seen, for example a developer-mode scan that never looked.
		if lowest != lowestVersionUnset && lowest > floor {
			if err := c.Secdata.SetKernelVersion(lowest); err != nil {
				return fmt.Errorf("raising version floor to %#x: %v", lowest, err)
			}
			klog.Infof("Version floor raised %#x -> %#x", floor, lowest)
		}
		return nil
	}

	if found > 0 {
		klog.V(1).Infof("Scan failures: %v", scanErrs)
		return fmt.Errorf("%w: %d candidates rejected", ErrInvalidKernelFound, found)
	}
	return ErrNoKernelFound
}
