package maputil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []int{1, 2, 3}, Keys(map[int]string{1: "one", 2: "two", 3: "three"}))
	require.Empty(t, Keys(map[int]string{}))
}

func TestValues(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []string{"one", "two", "three"}, Values(map[int]string{1: "one", 2: "two", 3: "three"}))
	require.Empty(t, Values(map[int]string{}))
}
