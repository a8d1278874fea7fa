// Package maputil contains helpers related to maps, usually generics-related,
// that are broadly useful but not included in the standard `maps` package.
package maputil

// Keys returns the keys of a map in an arbitrary order.
func Keys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

// Values returns the values of a map in an arbitrary order.
func Values[K comparable, V any](m map[K]V) []V {
	values := make([]V, 0, len(m))
	for _, value := range m {
		values = append(values, value)
	}
	return values
}
