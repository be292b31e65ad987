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
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aamcrae/rproc/firmware"
	"github.com/aamcrae/rproc/fwfetch"
	"github.com/aamcrae/rproc/rerr"
)

// lockInterruptibly acquires mu, returning Interrupted if ctx is
// cancelled first. On interruption, the lock is still eventually taken
// and immediately released by a detached goroutine so mu isn't left
// locked forever; the caller never observes holding it.
func lockInterruptibly(ctx context.Context, mu *sync.Mutex) error {
	if mu.TryLock() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() {
			<-done
			mu.Unlock()
		}()
		return fmt.Errorf("lock: %w", rerr.Interrupted)
	}
}

// Get acquires a reference-counted handle to the remote processor
// registered under name. If the processor is already booted (or being
// booted), the fast path returns immediately with the refcount
// incremented. Otherwise Get initiates an asynchronous firmware load and
// returns without waiting for it to complete: callers observe the result
// of the load via State or Diagnostics, not via Get's return.
func (r *Registry) Get(ctx context.Context, name string) (*Processor, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	if err := lockInterruptibly(ctx, &p.mu); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	if err := p.owner.Pin(); err != nil {
		return nil, fmt.Errorf("get %q: %w", name, rerr.Busy)
	}

	n := atomic.AddInt32(&p.refcount, 1)
	if n > 1 {
		// Someone else already booted it (or is booting it): fast path.
		return p, nil
	}

	if p.firmware == "" {
		atomic.StoreInt32(&p.refcount, 0)
		p.owner.Unpin()
		return nil, fmt.Errorf("get %q: %w", name, rerr.MissingFirmware)
	}

	p.loadDone = make(chan struct{})
	p.state = StateLoading
	r.log.Printf("powering up %s", name)

	fetch := fwfetch.Fetch(context.Background(), r.source, p.firmware)
	go r.runLoad(p, fetch)

	return p, nil
}

// runLoad is the asynchronous load callback: it runs once the firmware
// blob (or its absence) arrives, executes the parse/translate/load
// pipeline, starts the backend on success, and signals loadDone exactly
// once regardless of outcome.
func (r *Registry) runLoad(p *Processor, fetch <-chan fwfetch.Result) {
	res := <-fetch

	fail := func(err error) {
		p.mu.Lock()
		atomic.StoreInt32(&p.refcount, 0)
		p.state = StateOffline
		p.lastBootErr = err
		p.owner.Unpin()
		close(p.loadDone)
		p.mu.Unlock()
	}

	if res.Data == nil {
		p.log.Printf("failed to load %s", p.firmware)
		fail(fmt.Errorf("load %s: firmware unavailable", p.firmware))
		return
	}
	p.log.Printf("loaded fw image %s, size %d", p.firmware, len(res.Data))

	hdr, stream, err := firmware.Parse(res.Data)
	if err != nil {
		fail(err)
		return
	}
	p.log.Printf("image version is %d", hdr.Version)

	lc := firmware.NewLoadContext(p.maps, r.mapper)
	lc.ResourceContext.Logger = p.log

	bootaddr, err := firmware.Load(context.Background(), stream, lc)
	if err != nil {
		p.log.Printf("failed to process the image: %v", err)
		fail(err)
		return
	}

	// start and the RUNNING transition are one critical section under the
	// processor's serialization primitive, matching rproc_start holding
	// rproc->lock across ops->start and the state change.
	p.mu.Lock()
	if err := p.backend.Start(context.Background(), p, bootaddr); err != nil {
		p.mu.Unlock()
		lc.ResourceContext.ReleaseTraces()
		p.log.Printf("can't start rproc %s: %v", p.name, err)
		fail(fmt.Errorf("start %s: %w", p.name, rerr.BackendError))
		return
	}
	p.headerText = hdr.Text
	p.fwVersion = hdr.Version
	p.traces[0] = lc.ResourceContext.Traces[0]
	p.traces[1] = lc.ResourceContext.Traces[1]
	p.state = StateRunning
	close(p.loadDone)
	p.mu.Unlock()
	p.log.Printf("remote processor %s is now up", p.name)
}

// Put releases a handle previously acquired with Get. If this is the
// last release, trace mappings are torn down, the backend is stopped (if
// running), and the processor transitions to OFFLINE.
func (r *Registry) Put(p *Processor) error {
	if p.RefCount() == 0 {
		return fmt.Errorf("put %q: %w", p.name, rerr.AsymmetricRelease)
	}

	// A release must never race an in-flight load.
	if done := p.loadDoneChan(); done != nil {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A failed load already zeroed refcount and unpinned the owner
	// (see fail, above) before closing loadDone, so the wait above may
	// return with nothing left for this call to release.
	if atomic.LoadInt32(&p.refcount) == 0 {
		return fmt.Errorf("put %q: %w", p.name, rerr.AsymmetricRelease)
	}

	n := atomic.AddInt32(&p.refcount, -1)
	if n > 0 {
		return nil
	}

	for i := range p.traces {
		if p.traces[i] != nil {
			p.traces[i].Mapping.Close()
			p.traces[i] = nil
		}
	}

	if p.state == StateRunning {
		if err := p.backend.Stop(context.Background(), p); err != nil {
			p.log.Printf("can't stop rproc: %v", err)
		}
	}

	p.state = StateOffline
	p.owner.Unpin()
	p.log.Printf("stopped remote processor %s", p.name)
	return nil
}

// loadDoneChan returns the current load-completion channel under lock,
// or nil if no load has ever been started on this processor. A fast-path
// Get shares the channel made by the Get that started the load; a new
// channel is made only on an OFFLINE->LOADING transition.
func (p *Processor) loadDoneChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadDone
}
