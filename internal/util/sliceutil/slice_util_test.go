package sliceutil

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyBy(t *testing.T) {
	t.Parallel()

	type pair struct {
		key   string
		value int
	}

	require.Equal(t,
		map[string]int{"a": 1, "b": 2},
		KeyBy([]pair{{"a", 1}, {"b", 2}}, func(p pair) (string, int) { return p.key, p.value }))

	// Last one wins on conflicting keys.
	require.Equal(t,
		map[string]int{"a": 3},
		KeyBy([]pair{{"a", 1}, {"a", 3}}, func(p pair) (string, int) { return p.key, p.value }))
}

func TestMap(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"1", "2", "3"}, Map([]int{1, 2, 3}, strconv.Itoa))
	require.Empty(t, Map([]int{}, strconv.Itoa))
}
