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

// Package rerr defines the stable error kinds surfaced by the rproc
// framework. Call sites wrap these with fmt.Errorf and %w; callers match
// kinds with errors.Is.
package rerr

import "errors"

var (
	// NotFound is returned when no processor is registered under a name.
	NotFound = errors.New("rproc: not found")

	// Exists is returned by Register on a duplicate name.
	Exists = errors.New("rproc: already registered")

	// Busy is returned when Unregister races a held reference, or when
	// the backend module is being unloaded.
	Busy = errors.New("rproc: busy")

	// MissingFirmware is returned by Get when no firmware name is set.
	MissingFirmware = errors.New("rproc: no firmware set")

	// TooSmall is returned by the firmware parser when the image is
	// shorter than a header.
	TooSmall = errors.New("rproc: image too small")

	// BadMagic is returned when the image does not begin with RPRC.
	BadMagic = errors.New("rproc: bad magic")

	// Truncated is returned when a section or resource table runs past
	// the end of the image.
	Truncated = errors.New("rproc: image truncated")

	// InvalidAddress is returned when a device address cannot be
	// translated through the address map.
	InvalidAddress = errors.New("rproc: invalid device address")

	// MappingFailed is returned when a host-visible mapping could not
	// be acquired.
	MappingFailed = errors.New("rproc: mapping failed")

	// TooMany is returned when more trace resources are requested than
	// there are trace slots.
	TooMany = errors.New("rproc: too many trace resources")

	// BackendError wraps a failed backend.Start during an asynchronous
	// load. A failing backend.Stop is logged by Put and not returned.
	BackendError = errors.New("rproc: backend error")

	// AsymmetricRelease is returned by Put when refcount is already 0.
	AsymmetricRelease = errors.New("rproc: asymmetric release")

	// Interrupted is returned when an interruptible wait is cancelled.
	Interrupted = errors.New("rproc: interrupted")
)
