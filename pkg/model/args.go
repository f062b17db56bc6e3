package model

import "sort"

// DeepCopyArgs clones an args bag so later mutation of the source event cannot
// reach into the model. Snapshot references are treated as leaves.
func DeepCopyArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(args))
	for k, v := range args {
		copied[k] = deepCopyValue(v)
	}
	return copied
}

func deepCopyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return DeepCopyArgs(value)
	case []interface{}:
		copied := make([]interface{}, len(value))
		for i, elem := range value {
			copied[i] = deepCopyValue(elem)
		}
		return copied
	default:
		return value
	}
}

// MergeArgs copies src entries into dst, returning the names of entries that
// were already present. Last write wins. Keys are visited in sorted order so
// conflict reporting is deterministic.
func MergeArgs(dst, src map[string]interface{}) []string {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []string
	for _, k := range keys {
		if _, exists := dst[k]; exists {
			conflicts = append(conflicts, k)
		}
		dst[k] = deepCopyValue(src[k])
	}
	return conflicts
}
