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
	"context"
	"fmt"

	"github.com/aamcrae/rproc/addrmap"
	"github.com/aamcrae/rproc/rerr"
)

// LoadContext carries the per-load state the section loader and the
// resource interpreter it dispatches to both need.
type LoadContext struct {
	Maps   addrmap.Map
	Mapper Mapper
	*ResourceContext
}

// NewLoadContext builds a LoadContext wired to its own ResourceContext.
func NewLoadContext(maps addrmap.Map, mapper Mapper) *LoadContext {
	rc := &ResourceContext{Maps: maps, Mapper: mapper}
	return &LoadContext{Maps: maps, Mapper: mapper, ResourceContext: rc}
}

// Load walks every section in the stream, translating its device address,
// copying its payload into a temporary host-visible mapping, and — for a
// RESOURCE section — dispatching the resource interpreter over the bytes
// just written. It returns the boot address found in the resource table,
// if any. Any error aborts the load; trace bindings attached earlier in
// this call are rolled back before returning.
func Load(ctx context.Context, sections *SectionStream, lc *LoadContext) (uint64, error) {
	var bootaddr uint64
	for {
		if err := ctx.Err(); err != nil {
			lc.ReleaseTraces()
			return 0, fmt.Errorf("load: %w", rerr.Interrupted)
		}
		sec, ok, err := sections.Next()
		if err != nil {
			lc.ReleaseTraces()
			return 0, err
		}
		if !ok {
			break
		}

		pa, err := addrmap.Translate(lc.Maps, sec.DA)
		if err != nil {
			lc.ReleaseTraces()
			return 0, err
		}

		m, err := lc.Mapper.Map(pa, len(sec.Content))
		if err != nil {
			lc.ReleaseTraces()
			return 0, fmt.Errorf("section da=0x%x: %w", sec.DA, rerr.MappingFailed)
		}
		copy(m.Bytes(), sec.Content)

		if sec.Type == SectionResource {
			ba, ierr := InterpretResources(m.Bytes(), lc.ResourceContext)
			if ierr != nil {
				m.Close()
				return 0, ierr
			}
			if ba != 0 {
				bootaddr = ba
			}
		}

		m.Close()
	}
	return bootaddr, nil
}
