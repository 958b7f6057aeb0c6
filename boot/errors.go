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

import "errors"

// The closed set of result codes surfaced by kernel verification and
// selection. Callers classify with errors.Is; failures carry wrapped detail.
var (
	// Vblock verification failures.
	ErrSubkeyInvalid           = errors.New("kernel subkey invalid")
	ErrKeyblockInvalid         = errors.New("keyblock signature invalid")
	ErrKeyblockHashInvalid     = errors.New("keyblock hash invalid")
	ErrDevFlagMismatch         = errors.New("keyblock developer flag mismatch")
	ErrRecFlagMismatch         = errors.New("keyblock recovery flag mismatch")
	ErrKeyVersionRollback      = errors.New("data key version rollback")
	ErrKeyVersionRange         = errors.New("data key version out of range")
	ErrDevKeyHashMismatch      = errors.New("developer key digest mismatch")
	ErrDataKeyInvalid          = errors.New("data key invalid")
	ErrPreambleInvalid         = errors.New("preamble verification failed")
	ErrPreambleVersionRange    = errors.New("preamble version out of range")
	ErrPreambleVersionRollback = errors.New("kernel version rollback")

	// Partition loader failures.
	ErrWorkbufExhausted   = errors.New("work buffer exhausted")
	ErrReadVblock         = errors.New("unable to read start of partition")
	ErrReadBody           = errors.New("unable to read kernel body")
	ErrBodyOffsetTooLarge = errors.New("kernel body offset exceeds header window")
	ErrBodyTooLarge       = errors.New("kernel body does not fit in buffer")
	ErrBodyVerifyFailed   = errors.New("kernel body verification failed")

	// Terminal scan outcomes.
	ErrInvalidKernelFound = errors.New("only invalid kernels found")
	ErrNoKernelFound      = errors.New("no kernel found")
)
