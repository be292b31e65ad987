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

package addrmap

import (
	"errors"
	"testing"

	"github.com/aamcrae/rproc/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateIdentity(t *testing.T) {
	pa, err := Translate(nil, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), pa)
}

func TestTranslateIdentityOutOfRange(t *testing.T) {
	_, err := Translate(nil, uint64(hostPAWidth)+1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.InvalidAddress))
}

func TestTranslateMapped(t *testing.T) {
	m := Map{
		{DA: 0x10000, PA: 0x80000000, Size: 0x1000},
		{DA: 0x20000, PA: 0x90000000, Size: 0x1000},
	}
	pa, err := Translate(m, 0x10080)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80000080), pa)
}

func TestTranslateMappedMiss(t *testing.T) {
	m := Map{{DA: 0x10000, PA: 0x80000000, Size: 0x1000}}
	_, err := Translate(m, 0x5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.InvalidAddress))
}

func TestTranslateMonotonePiecewiseLinear(t *testing.T) {
	m := Map{{DA: 0x1000, PA: 0x2000, Size: 0x100}}
	var prev uint64
	for i, da := range []uint64{0x1000, 0x1010, 0x1020, 0x10ff} {
		pa, err := Translate(m, da)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, pa, prev)
		}
		prev = pa
	}
}

func TestValidateOverlap(t *testing.T) {
	m := Map{
		{DA: 0x1000, PA: 0, Size: 0x100},
		{DA: 0x1080, PA: 0, Size: 0x100},
	}
	err := Validate(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.InvalidAddress))
}

func TestValidateNoOverlap(t *testing.T) {
	m := Map{
		{DA: 0x1000, PA: 0, Size: 0x100},
		{DA: 0x1100, PA: 0, Size: 0x100},
	}
	assert.NoError(t, Validate(m))
}
