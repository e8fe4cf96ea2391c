/*
Copyright Verax Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package maphelpers

// CopyMap copies a map together with nested maps and slices, so callers can mutate the
// copy without touching the original.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	cm := make(map[string]interface{}, len(m))

	for k, v := range m {
		cm[k] = copyValue(v)
	}

	return cm
}

// CopySlice copies a slice together with nested maps and slices.
func CopySlice(s []interface{}) []interface{} {
	cs := make([]interface{}, len(s))

	for i, v := range s {
		cs[i] = copyValue(v)
	}

	return cs
}

func copyValue(v interface{}) interface{} {
	switch cv := v.(type) {
	case map[string]interface{}:
		return CopyMap(cv)
	case []interface{}:
		return CopySlice(cv)
	default:
		return v
	}
}
