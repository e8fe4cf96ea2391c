/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package maphelpers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyMap(t *testing.T) {
	original := map[string]interface{}{
		"name": "value",
		"nested": map[string]interface{}{
			"inner": "value",
		},
		"list": []interface{}{
			"first",
			map[string]interface{}{"second": "value"},
		},
	}

	copied := CopyMap(original)
	require.Equal(t, original, copied)

	copied["nested"].(map[string]interface{})["inner"] = "changed"
	copied["list"].([]interface{})[1].(map[string]interface{})["second"] = "changed"

	require.Equal(t, "value", original["nested"].(map[string]interface{})["inner"])
	require.Equal(t, "value", original["list"].([]interface{})[1].(map[string]interface{})["second"])
}

func TestCopySlice(t *testing.T) {
	original := []interface{}{"a", []interface{}{"b"}}

	copied := CopySlice(original)
	require.Equal(t, original, copied)

	copied[1].([]interface{})[0] = "changed"
	require.Equal(t, "b", original[1].([]interface{})[0])
}
