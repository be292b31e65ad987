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

package firmware

import (
	"bytes"
	"fmt"
	"log"

	"github.com/aamcrae/rproc/addrmap"
	"github.com/aamcrae/rproc/rerr"
)

// Mapper acquires and releases a temporary host-visible mapping over a
// host physical address range. It is the seam for the out-of-scope
// mapping primitive referenced by spec §4.3/§4.4.
type Mapper interface {
	Map(pa uint64, length int) (Mapping, error)
}

// Mapping is a live host-visible mapping of firmware-section or
// trace-buffer memory.
type Mapping interface {
	Bytes() []byte
	Close() error
}

// TraceBinding is one established trace-buffer mapping.
type TraceBinding struct {
	Mapping Mapping
	Length  int
}

// ResourceContext carries the state a single resource-table interpretation
// pass accumulates: the address map to translate through, the mapper to
// acquire trace buffers from, and the trace bindings established so far
// for this processor during this load (at most two).
type ResourceContext struct {
	Maps    addrmap.Map
	Mapper  Mapper
	Logger  *log.Logger
	Traces  [2]*TraceBinding
	ntraces int
}

// ReleaseTraces unwinds any trace mappings acquired during this call, used
// when a later entry in the same resource table fails, or when a caller
// abandons a load after InterpretResources succeeded.
func (c *ResourceContext) ReleaseTraces() {
	for i := range c.Traces {
		if c.Traces[i] != nil {
			c.Traces[i].Mapping.Close()
			c.Traces[i] = nil
		}
	}
	c.ntraces = 0
}

// InterpretResources walks the resource entries packed into payload,
// dispatching TRACE and BOOTADDR kinds and ignoring all others. On any
// failure, trace mappings acquired earlier in this call are released and
// the error is returned; ctx is left with a zero-value trace state.
func InterpretResources(payload []byte, ctx *ResourceContext) (bootaddr uint64, err error) {
	haveBootAddr := false
	for len(payload) >= resourceEntryLen {
		e := decodeResourceEntry(payload[:resourceEntryLen])
		payload = payload[resourceEntryLen:]

		switch e.Type {
		case ResourceTrace:
			if ctx.ntraces >= 2 {
				ctx.ReleaseTraces()
				return 0, fmt.Errorf("trace resource %q: %w", e.Name, rerr.TooMany)
			}
			pa, terr := addrmap.Translate(ctx.Maps, e.DA)
			if terr != nil {
				ctx.ReleaseTraces()
				return 0, fmt.Errorf("trace resource %q: %w", e.Name, terr)
			}
			m, merr := ctx.Mapper.Map(pa, int(e.Len))
			if merr != nil {
				ctx.ReleaseTraces()
				return 0, fmt.Errorf("trace resource %q: %w", e.Name, rerr.MappingFailed)
			}
			ctx.Traces[ctx.ntraces] = &TraceBinding{Mapping: m, Length: int(e.Len)}
			ctx.ntraces++

		case ResourceBootAddr:
			if haveBootAddr {
				if ctx.Logger != nil {
					ctx.Logger.Printf("bootaddr already set, keeping 0x%x", bootaddr)
				}
				continue
			}
			bootaddr = e.DA
			haveBootAddr = true

		default:
			// Unknown kinds are parsed but ignored, for forward-compat.
		}
	}
	return bootaddr, nil
}

func decodeResourceEntry(b []byte) ResourceEntry {
	typ := Order.Uint32(b[0:4])
	da := Order.Uint64(b[4:12])
	pa := Order.Uint64(b[12:20])
	length := Order.Uint32(b[20:24])
	flags := Order.Uint32(b[24:28])
	name := b[28 : 28+resourceNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return ResourceEntry{
		Type:  ResourceType(typ),
		DA:    da,
		PA:    pa,
		Len:   length,
		Flags: flags,
		Name:  string(name),
	}
}
