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

package rproc

import "context"

// Backend is the platform-specific contract a registering module must
// satisfy: power the core on and begin executing from bootaddr, or power
// it off. It is invoked exclusively by the lifecycle manager, under the
// processor's serialization primitive.
type Backend interface {
	// Start powers up the core and begins executing from bootaddr (or an
	// implementation-defined default when bootaddr is 0). It may return
	// before user code on the core is necessarily running.
	Start(ctx context.Context, p *Processor, bootaddr uint64) error

	// Stop synchronously halts the core and releases host-programmable
	// resources.
	Stop(ctx context.Context, p *Processor) error
}

// ModuleRef is the opaque handle of the backend module that registered a
// processor, pinned for the duration of any acquisition to prevent the
// backend from being unloaded while in use.
type ModuleRef interface {
	// Pin prevents unload. It fails with Busy if the module is being
	// unloaded.
	Pin() error
	// Unpin releases a previous successful Pin.
	Unpin()
}

// NopModuleRef is a ModuleRef that never refuses a pin, useful for
// backends with no separate unload lifecycle (e.g. the reference backend
// and tests).
type NopModuleRef struct{}

func (NopModuleRef) Pin() error { return nil }
func (NopModuleRef) Unpin()     {}
