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

// Command rprocctl is a small example wiring of the rproc framework,
// mirroring the open/load/start/poll/stop shape of the teacher library's
// examples/base and examples/echo mains, adapted to the Register/Get/Put
// API and a synthetic in-memory firmware image instead of a real PRU.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aamcrae/rproc/firmware"
	"github.com/aamcrae/rproc/fwfetch"
	"github.com/aamcrae/rproc/hostmem"
	"github.com/aamcrae/rproc/rproc"
	"github.com/aamcrae/rproc/rprocconf"
)

// exampleBackend is a reference Backend that does nothing but record
// that it was asked to start/stop, standing in for a real platform
// implementation's clock/reset/power-gating code.
type exampleBackend struct{}

func (exampleBackend) Start(ctx context.Context, p *rproc.Processor, bootaddr uint64) error {
	log.Printf("example backend: start %s at bootaddr 0x%x", p.Name(), bootaddr)
	return nil
}

func (exampleBackend) Stop(ctx context.Context, p *rproc.Processor) error {
	log.Printf("example backend: stop %s", p.Name())
	return nil
}

// syntheticImage builds a minimal well-formed RPRC image carrying a boot
// address resource, for demonstration when no real firmware file is given.
func syntheticImage() []byte {
	var img bytes.Buffer
	img.Write(firmware.Magic[:])
	var tmp4 [4]byte
	firmware.Order.PutUint32(tmp4[:], 1) // version
	img.Write(tmp4[:])
	firmware.Order.PutUint32(tmp4[:], 0) // header_len
	img.Write(tmp4[:])

	var rsc bytes.Buffer
	var tmp8 [8]byte
	firmware.Order.PutUint32(tmp4[:], uint32(firmware.ResourceBootAddr))
	rsc.Write(tmp4[:])
	firmware.Order.PutUint64(tmp8[:], 0x10080000)
	rsc.Write(tmp8[:]) // da
	rsc.Write(tmp8[:]) // pa (unused)
	firmware.Order.PutUint32(tmp4[:], 0)
	rsc.Write(tmp4[:]) // len
	rsc.Write(tmp4[:]) // flags
	var name [48]byte
	copy(name[:], "boot")
	rsc.Write(name[:])

	firmware.Order.PutUint32(tmp4[:], uint32(firmware.SectionResource))
	img.Write(tmp4[:])
	firmware.Order.PutUint64(tmp8[:], 0)
	img.Write(tmp8[:])
	firmware.Order.PutUint32(tmp4[:], uint32(rsc.Len()))
	img.Write(tmp4[:])
	img.Write(rsc.Bytes())

	return img.Bytes()
}

func main() {
	name := flag.String("name", "example0", "processor name to register and acquire")
	flag.Parse()

	backing, err := hostmem.Open(filepath.Join(os.TempDir(), "rprocctl-hostmem"), 1<<20)
	if err != nil {
		log.Fatalf("hostmem: %v", err)
	}
	defer backing.Close()

	src := fwfetch.MapSource{"example.fw": syntheticImage()}
	reg := rproc.NewRegistry(src, backing)

	p, err := reg.Register(*name, exampleBackend{}, rproc.NopModuleRef{}, rprocconf.WithFirmware("example.fw"))
	if err != nil {
		log.Fatalf("register: %v", err)
	}

	h, err := reg.Get(context.Background(), *name)
	if err != nil {
		log.Fatalf("get: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.State() == rproc.StateLoading {
		time.Sleep(5 * time.Millisecond)
	}
	log.Printf("%s: %+v", *name, p.Diagnostics())

	if err := reg.Put(h); err != nil {
		log.Fatalf("put: %v", err)
	}
	if err := reg.Unregister(*name); err != nil {
		log.Fatalf("unregister: %v", err)
	}
}
