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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeActionsOutput(t *testing.T) {
	data, err := EncodeActions([]string{"output:3"})
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, uint16(actionTypeOutput), binary.BigEndian.Uint16(data[0:2]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[4:8]))
}

func TestEncodeActionsGroup(t *testing.T) {
	data, err := EncodeActions([]string{"group:5"})
	require.NoError(t, err)
	require.Len(t, data, 8)
	assert.Equal(t, uint16(actionTypeGroup), binary.BigEndian.Uint16(data[0:2]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(data[4:8]))
}

func TestEncodeActionsDropIsEmpty(t *testing.T) {
	data, err := EncodeActions([]string{"drop"})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEncodeActionsConcatenatesInOrder(t *testing.T) {
	data, err := EncodeActions([]string{"output:1", "output:2"})
	require.NoError(t, err)
	require.Len(t, data, 32)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[20:24]))
}

func TestEncodeActionsUnknownErrors(t *testing.T) {
	_, err := EncodeActions([]string{"teleport:9"})
	assert.Error(t, err)
}
