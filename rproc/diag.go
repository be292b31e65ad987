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

import "bytes"

// State returns the processor's current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Trace returns the prefix of trace buffer slot (0 or 1) up to the first
// NUL byte, or nil if that slot has no binding. No wrap handling: binary
// traces are truncated at the first NUL, per the diagnostics surface spec.
func (p *Processor) Trace(slot int) []byte {
	if slot != 0 && slot != 1 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tb := p.traces[slot]
	if tb == nil {
		return nil
	}
	buf := tb.Mapping.Bytes()
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// Diagnostics returns a read-only snapshot of the processor's diagnostic
// surface: name, state, text header, and any trace buffers, in place of
// the debugfs files the source driver exposes (filesystem exposure itself
// is out of scope; only the data is specified).
func (p *Processor) Diagnostics() map[string]string {
	p.mu.Lock()
	state := p.state
	header := p.headerText
	p.mu.Unlock()

	out := map[string]string{
		"name":  p.name,
		"state": state.String(),
	}
	if header != "" {
		out["header"] = header
	}
	if t := p.Trace(0); t != nil {
		out["trace0"] = string(t)
	}
	if t := p.Trace(1); t != nil {
		out["trace1"] = string(t)
	}
	return out
}
