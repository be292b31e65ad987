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
	"fmt"
	"log"
	"sync"

	"github.com/aamcrae/rproc/addrmap"
	"github.com/aamcrae/rproc/firmware"
	"github.com/aamcrae/rproc/fwfetch"
	"github.com/aamcrae/rproc/internal/rplog"
	"github.com/aamcrae/rproc/rerr"
	"github.com/aamcrae/rproc/rprocconf"
)

// Registry is a process-wide, concurrency-safe named set of remote
// processors. It also carries the firmware-fetch source and host-mapping
// backend shared by every processor's load pipeline. The zero value is
// not usable; use NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	procs  map[string]*Processor
	log    *log.Logger
	source fwfetch.Source
	mapper firmware.Mapper
}

// NewRegistry returns an empty registry whose firmware loads use source
// to fetch firmware blobs and mapper to acquire host-visible mappings.
func NewRegistry(source fwfetch.Source, mapper firmware.Mapper) *Registry {
	return &Registry{
		procs:  make(map[string]*Processor),
		log:    rplog.New("rproc"),
		source: source,
		mapper: mapper,
	}
}

// Register adds a new remote processor to the registry. dev (name),
// backend, and owner must all be non-nil/non-empty. The record is
// created in state OFFLINE with refcount 0; diagnostic views are
// available immediately, trace views are attached lazily on load.
func (r *Registry) Register(name string, backend Backend, owner ModuleRef, opts ...rprocconf.Option) (*Processor, error) {
	if name == "" || backend == nil || owner == nil {
		return nil, fmt.Errorf("register %q: invalid arguments", name)
	}
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("register %q: name exceeds %d bytes", name, MaxNameLen)
	}
	cfg := rprocconf.Apply(opts...)
	if err := addrmap.Validate(cfg.Maps); err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[name]; exists {
		return nil, fmt.Errorf("register %q: %w", name, rerr.Exists)
	}
	p := &Processor{
		name:     name,
		owner:    owner,
		backend:  backend,
		firmware: cfg.Firmware,
		maps:     cfg.Maps,
		state:    StateOffline,
		log:      rplog.New("rproc:" + name),
	}
	r.procs[name] = p
	r.log.Printf("%s is available", name)
	return p, nil
}

// Unregister removes a remote processor from the registry. It fails with
// NotFound if name is unknown, or Busy if the processor currently has
// users (refcount > 0).
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[name]
	if !ok {
		return fmt.Errorf("unregister %q: %w", name, rerr.NotFound)
	}
	if p.RefCount() > 0 {
		return fmt.Errorf("unregister %q: %w", name, rerr.Busy)
	}
	delete(r.procs, name)
	r.log.Printf("removing %s", name)
	return nil
}

// lookup finds a registered processor by name under the registry lock,
// released before the caller takes the processor's own lock.
func (r *Registry) lookup(name string) (*Processor, error) {
	r.mu.RLock()
	p, ok := r.procs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", name, rerr.NotFound)
	}
	return p, nil
}
