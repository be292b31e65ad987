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
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aamcrae/rproc/firmware"
	"github.com/aamcrae/rproc/fwfetch"
	"github.com/aamcrae/rproc/rerr"
	"github.com/aamcrae/rproc/rprocconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMapping/memMapper are an in-memory firmware.Mapper for tests, in
// place of the real mmap-backed hostmem.Backing. The backing buffer is
// filled with non-NUL bytes so trace-length assertions can observe the
// full binding length through Processor.Trace's NUL-prefix truncation.
// closed optionally counts Close calls, for tests that need to observe
// that a mapping was actually released rather than leaked.
type memMapping struct {
	buf    []byte
	closed *int32
}

func (m *memMapping) Bytes() []byte { return m.buf }

func (m *memMapping) Close() error {
	if m.closed != nil {
		atomic.AddInt32(m.closed, 1)
	}
	return nil
}

type memMapper struct {
	closed *int32 // shared close counter, nil if unused
}

func (mm memMapper) Map(pa uint64, length int) (firmware.Mapping, error) {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = 'x'
	}
	return &memMapping{buf: buf, closed: mm.closed}, nil
}

// countingModuleRef tracks how many times Pin/Unpin are called, to catch
// an Unpin double-called for a single successful Pin.
type countingModuleRef struct {
	mu     sync.Mutex
	pins   int
	unpins int
}

func (m *countingModuleRef) Pin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins++
	return nil
}

func (m *countingModuleRef) Unpin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpins++
}

func (m *countingModuleRef) counts() (pins, unpins int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins, m.unpins
}

// fakeBackend records Start/Stop invocations.
type fakeBackend struct {
	mu        sync.Mutex
	startErr  error
	stopErr   error
	starts    []uint64
	stopCount int
}

func (b *fakeBackend) Start(ctx context.Context, p *Processor, bootaddr uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.starts = append(b.starts, bootaddr)
	return nil
}

func (b *fakeBackend) Stop(ctx context.Context, p *Processor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCount++
	return b.stopErr
}

func buildHeader(version uint32, header string) []byte {
	var b bytes.Buffer
	b.Write(firmware.Magic[:])
	var tmp [4]byte
	firmware.Order.PutUint32(tmp[:], version)
	b.Write(tmp[:])
	firmware.Order.PutUint32(tmp[:], uint32(len(header)))
	b.Write(tmp[:])
	b.WriteString(header)
	return b.Bytes()
}

func appendSection(b *bytes.Buffer, typ firmware.SectionType, da uint64, content []byte) {
	var tmp4 [4]byte
	var tmp8 [8]byte
	firmware.Order.PutUint32(tmp4[:], uint32(typ))
	b.Write(tmp4[:])
	firmware.Order.PutUint64(tmp8[:], da)
	b.Write(tmp8[:])
	firmware.Order.PutUint32(tmp4[:], uint32(len(content)))
	b.Write(tmp4[:])
	b.Write(content)
}

func appendResource(b *bytes.Buffer, typ firmware.ResourceType, da, pa uint64, length, flags uint32, name string) {
	var tmp4 [4]byte
	var tmp8 [8]byte
	firmware.Order.PutUint32(tmp4[:], uint32(typ))
	b.Write(tmp4[:])
	firmware.Order.PutUint64(tmp8[:], da)
	b.Write(tmp8[:])
	firmware.Order.PutUint64(tmp8[:], pa)
	b.Write(tmp8[:])
	firmware.Order.PutUint32(tmp4[:], length)
	b.Write(tmp4[:])
	firmware.Order.PutUint32(tmp4[:], flags)
	b.Write(tmp4[:])
	var nameBuf [48]byte
	copy(nameBuf[:], name)
	b.Write(nameBuf[:])
}

func waitState(t *testing.T, p *Processor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, p.State())
}

func TestHappyPath(t *testing.T) {
	var img bytes.Buffer
	img.Write(buildHeader(1, ""))
	appendSection(&img, firmware.SectionData, 0x1000, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	src := fwfetch.MapSource{"fw0": img.Bytes()}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	waitState(t, h, StateRunning)
	require.Len(t, be.starts, 1)
	assert.Equal(t, uint64(0), be.starts[0])

	require.NoError(t, reg.Put(h))
	assert.Equal(t, StateOffline, h.State())
	assert.Equal(t, 1, be.stopCount)
}

func TestBootAddress(t *testing.T) {
	var img bytes.Buffer
	img.Write(buildHeader(1, ""))
	var rsc bytes.Buffer
	appendResource(&rsc, firmware.ResourceBootAddr, 0x10080000, 0, 0, 0, "boot")
	appendSection(&img, firmware.SectionResource, 0, rsc.Bytes())

	src := fwfetch.MapSource{"fw0": img.Bytes()}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	waitState(t, h, StateRunning)
	require.Len(t, be.starts, 1)
	assert.Equal(t, uint64(0x10080000), be.starts[0])
	require.NoError(t, reg.Put(h))
}

func TestTraceBuffersAndTooMany(t *testing.T) {
	buildImg := func(n int) []byte {
		var img bytes.Buffer
		img.Write(buildHeader(1, ""))
		var rsc bytes.Buffer
		das := []uint64{0xA, 0xB, 0xC}
		lens := []uint32{1024, 2048, 512}
		for i := 0; i < n; i++ {
			appendResource(&rsc, firmware.ResourceTrace, das[i], 0, lens[i], 0, "trace")
		}
		appendSection(&img, firmware.SectionResource, 0, rsc.Bytes())
		return img.Bytes()
	}

	t.Run("two traces", func(t *testing.T) {
		src := fwfetch.MapSource{"fw0": buildImg(2)}
		reg := NewRegistry(src, memMapper{})
		be := &fakeBackend{}
		_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
		require.NoError(t, err)
		h, err := reg.Get(context.Background(), "p0")
		require.NoError(t, err)
		waitState(t, h, StateRunning)
		assert.Equal(t, 1024, len(h.Trace(0)))
		assert.Equal(t, 2048, len(h.Trace(1)))
		require.NoError(t, reg.Put(h))
	})

	t.Run("third trace too many", func(t *testing.T) {
		src := fwfetch.MapSource{"fw0": buildImg(3)}
		reg := NewRegistry(src, memMapper{})
		be := &fakeBackend{}
		_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
		require.NoError(t, err)
		h, err := reg.Get(context.Background(), "p0")
		require.NoError(t, err)
		waitState(t, h, StateOffline)
		assert.Empty(t, be.starts)
	})
}

func TestBadMagic(t *testing.T) {
	img := buildHeader(1, "")
	img[0] = 'X'
	src := fwfetch.MapSource{"fw0": img}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	waitState(t, h, StateOffline)
	assert.Empty(t, be.starts)
}

func TestRefcountSharing(t *testing.T) {
	var img bytes.Buffer
	img.Write(buildHeader(1, ""))
	appendSection(&img, firmware.SectionData, 0, []byte{1})

	src := fwfetch.MapSource{"fw0": img.Bytes()}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	ha, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	hb, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	assert.Equal(t, 2, ha.RefCount())

	waitState(t, ha, StateRunning)
	assert.Equal(t, StateRunning, hb.State())

	require.NoError(t, reg.Put(ha))
	assert.Equal(t, StateRunning, hb.State())
	require.NoError(t, reg.Put(hb))
	assert.Equal(t, StateOffline, hb.State())
}

func TestUnregisterWhileBusy(t *testing.T) {
	var img bytes.Buffer
	img.Write(buildHeader(1, ""))
	appendSection(&img, firmware.SectionData, 0, []byte{1})

	src := fwfetch.MapSource{"fw0": img.Bytes()}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)

	err = reg.Unregister("p0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.Busy))

	waitState(t, h, StateRunning)
	require.NoError(t, reg.Put(h))
	require.NoError(t, reg.Unregister("p0"))
}

func TestMissingFirmware(t *testing.T) {
	reg := NewRegistry(fwfetch.MapSource{}, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{})
	require.NoError(t, err)

	_, err = reg.Get(context.Background(), "p0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.MissingFirmware))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := NewRegistry(fwfetch.MapSource{}, memMapper{})
	be := &fakeBackend{}
	_, err := reg.Register("p0", be, NopModuleRef{})
	require.NoError(t, err)
	_, err = reg.Register("p0", be, NopModuleRef{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.Exists))
}

func TestAsymmetricRelease(t *testing.T) {
	reg := NewRegistry(fwfetch.MapSource{}, memMapper{})
	be := &fakeBackend{}
	p, err := reg.Register("p0", be, NopModuleRef{})
	require.NoError(t, err)
	err = reg.Put(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.AsymmetricRelease))
}

// TestPutAfterFailedLoad covers the dominant get-then-put pattern when the
// load in between fails: Put is called while refcount is still 1 and the
// load has already zeroed it and unpinned the owner by the time Put's wait
// on loadDone returns. Put must treat that as an already-released handle
// rather than driving refcount negative or double-unpinning.
func TestPutAfterFailedLoad(t *testing.T) {
	img := buildHeader(1, "")
	img[0] = 'X'
	src := fwfetch.MapSource{"fw0": img}
	reg := NewRegistry(src, memMapper{})
	be := &fakeBackend{}
	owner := &countingModuleRef{}
	_, err := reg.Register("p0", be, owner, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)

	err = reg.Put(h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.AsymmetricRelease))
	assert.Equal(t, 0, h.RefCount())

	pins, unpins := owner.counts()
	assert.Equal(t, 1, pins)
	assert.Equal(t, 1, unpins)

	err = reg.Put(h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.AsymmetricRelease))
}

// TestStartFailureReleasesTraces covers a successful load whose backend
// Start call fails: the trace mappings the load acquired must be released
// rather than left dangling with nothing referencing them.
func TestStartFailureReleasesTraces(t *testing.T) {
	var img bytes.Buffer
	img.Write(buildHeader(1, ""))
	var rsc bytes.Buffer
	appendResource(&rsc, firmware.ResourceTrace, 0xA, 0, 1024, 0, "t0")
	appendResource(&rsc, firmware.ResourceTrace, 0xB, 0, 2048, 0, "t1")
	appendSection(&img, firmware.SectionResource, 0, rsc.Bytes())

	var closed int32
	src := fwfetch.MapSource{"fw0": img.Bytes()}
	reg := NewRegistry(src, memMapper{closed: &closed})
	be := &fakeBackend{startErr: errors.New("backend refused to start")}
	_, err := reg.Register("p0", be, NopModuleRef{}, rprocconf.WithFirmware("fw0"))
	require.NoError(t, err)

	h, err := reg.Get(context.Background(), "p0")
	require.NoError(t, err)
	waitState(t, h, StateOffline)

	assert.Nil(t, h.Trace(0))
	assert.Nil(t, h.Trace(1))
	// One close for the resource section's own mapping (always closed by
	// the loader once interpreted) plus two for the trace bindings that
	// ReleaseTraces tears down on the Start failure.
	assert.Equal(t, int32(3), atomic.LoadInt32(&closed))
}

