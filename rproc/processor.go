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

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/aamcrae/rproc/addrmap"
	"github.com/aamcrae/rproc/firmware"
)

// MaxNameLen bounds a processor's printable identity, matching the
// source's RPROC_MAX_NAME.
const MaxNameLen = 100

// State is one of the remote processor's lifecycle states.
type State int

const (
	StateOffline State = iota
	StateSuspended
	StateRunning
	StateLoading
	StateCrashed
)

// String renders State the way the diagnostics surface does.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateLoading:
		return "loading"
	case StateCrashed:
		return "crashed"
	default:
		return "invalid state"
	}
}

// Processor is one registered remote-processor record: identity,
// ownership, configuration, backend operations, and the mutable runtime
// state guarded by mu.
type Processor struct {
	name     string
	owner    ModuleRef
	backend  Backend
	firmware string
	maps     addrmap.Map

	log *log.Logger

	mu          sync.Mutex
	state       State
	refcount    int32 // accessed both under mu and via atomic outside it
	traces      [2]*firmware.TraceBinding
	loadDone    chan struct{} // closed exactly once per load
	headerText  string
	fwVersion   uint32
	lastBootErr error
}

// Name returns the processor's registered name.
func (p *Processor) Name() string { return p.name }

// RefCount returns the processor's current reference count. It may be
// called without holding the registry lock or the processor's own lock —
// this is what lets Unregister check for busy users without ever taking
// both locks at once (the registry lock is always released before any
// record lock is taken, per the framework's two-lock discipline).
func (p *Processor) RefCount() int {
	return int(atomic.LoadInt32(&p.refcount))
}
