// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package addrmap implements device-address to host-physical-address
// translation for remote processors, with or without an address-map
// table, matching the da-to-pa conversion of the remoteproc framework.
package addrmap

import (
	"fmt"
	"math"

	"github.com/aamcrae/rproc/rerr"
)

// Entry is one device-address-to-host-physical-address mapping.
// Entries are read-only after registration and must not overlap in
// device-address space.
type Entry struct {
	DA   uint64 // device address, as seen by the remote processor
	PA   uint64 // host physical address
	Size uint64 // size of the region, in bytes
}

// Map is an ordered sequence of mapping entries for one processor. A nil
// or empty Map selects identity mode: da is used directly as pa, subject
// to the host physical-address width check.
type Map []Entry

// hostPAWidth bounds identity-mode translation the same way the original
// source does: a device address that doesn't fit in a 32-bit physical
// address is rejected.
const hostPAWidth = math.MaxUint32

// Translate converts da to a host physical address using m. If m is nil
// or empty, translation is identity, bounded by the host physical-address
// width. Otherwise the first entry containing da is used.
func Translate(m Map, da uint64) (uint64, error) {
	if len(m) == 0 {
		if da > hostPAWidth {
			return 0, fmt.Errorf("da 0x%x exceeds host address width: %w", da, rerr.InvalidAddress)
		}
		return da, nil
	}
	for _, e := range m {
		if da >= e.DA && da < e.DA+e.Size {
			return e.PA + (da - e.DA), nil
		}
	}
	return 0, fmt.Errorf("da 0x%x: %w", da, rerr.InvalidAddress)
}

// Validate checks that no two entries in m overlap in device-address
// space, per the address-map invariant.
func Validate(m Map) error {
	for i, a := range m {
		for _, b := range m[i+1:] {
			if a.DA < b.DA+b.Size && b.DA < a.DA+a.Size {
				return fmt.Errorf("overlapping entries [0x%x,0x%x) and [0x%x,0x%x): %w",
					a.DA, a.DA+a.Size, b.DA, b.DA+b.Size, rerr.InvalidAddress)
			}
		}
	}
	return nil
}
