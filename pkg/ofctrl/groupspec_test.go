/***
Copyright 2014 Cisco Systems Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ofctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroupSpecSelectWithWeights(t *testing.T) {
	g, err := ParseGroupSpec("group_id=7,type=select,bucket=weight:50,output:3,bucket=weight:50,output:4")
	require.NoError(t, err)

	assert.Equal(t, uint32(7), g.GroupID)
	assert.Equal(t, uint8(GroupTypeSelect), g.Type)
	require.Len(t, g.Buckets, 2)
	assert.Equal(t, uint16(50), g.Buckets[0].Weight)
	assert.NotEmpty(t, g.Buckets[0].Actions)
	assert.Equal(t, uint16(50), g.Buckets[1].Weight)
}

func TestParseGroupSpecDefaultsToAllType(t *testing.T) {
	g, err := ParseGroupSpec("group_id=1,bucket=output:1")
	require.NoError(t, err)
	assert.Equal(t, uint8(GroupTypeAll), g.Type)
}

func TestParseGroupSpecMultipleBucketsNoWeight(t *testing.T) {
	g, err := ParseGroupSpec("group_id=2,type=all,bucket=output:1,bucket=output:2,bucket=output:3")
	require.NoError(t, err)
	require.Len(t, g.Buckets, 3)
}

func TestParseGroupSpecUnknownFieldErrors(t *testing.T) {
	_, err := ParseGroupSpec("group_id=1,bogus=1,bucket=output:1")
	assert.Error(t, err)
}

func TestParseGroupSpecUnknownTypeErrors(t *testing.T) {
	_, err := ParseGroupSpec("group_id=1,type=nonsense,bucket=output:1")
	assert.Error(t, err)
}

func TestParseGroupSpecEmptyErrors(t *testing.T) {
	_, err := ParseGroupSpec("")
	assert.Error(t, err)
}

func TestParseGroupSpecWatchPortIgnored(t *testing.T) {
	g, err := ParseGroupSpec("group_id=1,type=ff,bucket=watch_port:3,output:3")
	require.NoError(t, err)
	require.Len(t, g.Buckets, 1)
	assert.NotEmpty(t, g.Buckets[0].Actions)
}
