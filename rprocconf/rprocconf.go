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

// Package rprocconf holds the functional-options configuration applied
// when registering a remote processor.
package rprocconf

import "github.com/aamcrae/rproc/addrmap"

// Config is the set of per-processor configuration values Register
// accepts, assembled from Options.
type Config struct {
	Firmware string
	Maps     addrmap.Map
}

// Option mutates a Config at Register time.
type Option func(*Config)

// WithFirmware sets the firmware image name to load on first acquire.
func WithFirmware(name string) Option {
	return func(c *Config) { c.Firmware = name }
}

// WithAddressMap sets the device-to-host address translation table. A
// processor with no address map translates addresses in identity mode.
func WithAddressMap(m addrmap.Map) Option {
	return func(c *Config) { c.Maps = m }
}

// Apply builds a Config from opts.
func Apply(opts ...Option) Config {
	var c Config
	for _, o := range opts {
		o(&c)
	}
	return c
}
