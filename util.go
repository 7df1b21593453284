package crmclient

import "sort"

// sortedKeys returns m's keys sorted lexicographically. Used wherever a
// deterministic iteration order over a label->value map is required, since
// Go map iteration order is randomized.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
