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
	"encoding/binary"
	"fmt"

	"github.com/aamcrae/rproc/rerr"
)

// Order is the byte order firmware images are produced in. The framework
// assumes the image matches the host's endianness; mismatched endianness
// is out of scope.
var Order = binary.LittleEndian

// Parse validates the container header and returns the decoded text
// header plus a lazy sequence of the sections that follow it.
func Parse(b []byte) (Header, *SectionStream, error) {
	if len(b) < headerFixedLen {
		return Header{}, nil, fmt.Errorf("image is %d bytes: %w", len(b), rerr.TooSmall)
	}
	if !bytes.Equal(b[0:4], Magic[:]) {
		return Header{}, nil, fmt.Errorf("image is corrupted: %w", rerr.BadMagic)
	}
	version := Order.Uint32(b[4:8])
	headerLen := Order.Uint32(b[8:12])
	if uint64(headerFixedLen)+uint64(headerLen) > uint64(len(b)) {
		return Header{}, nil, fmt.Errorf("header_len %d exceeds image: %w", headerLen, rerr.Truncated)
	}
	text := string(b[headerFixedLen : headerFixedLen+int(headerLen)])
	rest := b[headerFixedLen+int(headerLen):]
	return Header{Version: version, Text: text}, &SectionStream{buf: rest}, nil
}

// SectionStream is a lazy, forward-only sequence of firmware sections.
type SectionStream struct {
	buf []byte
}

// Next advances the stream and returns the next section. ok is false and
// err is nil once the stream is exhausted.
func (s *SectionStream) Next() (sec Section, ok bool, err error) {
	if len(s.buf) == 0 {
		return Section{}, false, nil
	}
	if len(s.buf) < sectionHdrLen {
		return Section{}, false, fmt.Errorf("section header: %w", rerr.Truncated)
	}
	typ := Order.Uint32(s.buf[0:4])
	da := Order.Uint64(s.buf[4:12])
	length := Order.Uint32(s.buf[12:16])
	s.buf = s.buf[sectionHdrLen:]
	if uint64(len(s.buf)) < uint64(length) {
		return Section{}, false, fmt.Errorf("section content: %w", rerr.Truncated)
	}
	content := s.buf[:length]
	s.buf = s.buf[length:]
	return Section{Type: SectionType(typ), DA: da, Content: content}, true, nil
}
