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

// Package rplog provides the plain *log.Logger wrapper used throughout
// the framework, one instance per component, in place of the per-call
// log.Printf the teacher library uses directly.
package rplog

import (
	"log"
	"os"
)

// New returns a logger that prefixes every line with name, matching the
// "%s: " pr_fmt style of the original remoteproc driver.
func New(name string) *log.Logger {
	return log.New(os.Stderr, name+": ", log.LstdFlags)
}
