package nodeconfig

// Merge returns the deep merge of base and overlay without mutating either.
// For keys present in both where both values are maps, the merge recurses;
// for every other collision the overlay value replaces the base value
// wholesale — lists and scalars are never concatenated or combined. Merge
// is idempotent: Merge(x, x) equals x, and re-applying an overlay is a
// no-op.
func Merge(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = copyValue(v)
	}
	for k, v := range overlay {
		if baseMap, ok := merged[k].(map[string]interface{}); ok {
			if overlayMap, ok := v.(map[string]interface{}); ok {
				merged[k] = Merge(baseMap, overlayMap)
				continue
			}
		}
		merged[k] = copyValue(v)
	}
	return merged
}

// copyValue deep-copies maps and slices so merged results never alias
// stored payloads
func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		dup := make(map[string]interface{}, len(val))
		for k, inner := range val {
			dup[k] = copyValue(inner)
		}
		return dup
	case []interface{}:
		dup := make([]interface{}, len(val))
		for i, inner := range val {
			dup[i] = copyValue(inner)
		}
		return dup
	default:
		return v
	}
}
