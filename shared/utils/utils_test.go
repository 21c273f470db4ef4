package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Equal(t, []int{}, SortedKeys(map[int]bool{}))
}

func TestMapToSlice(t *testing.T) {
	assert.Equal(t, []string{"zero", "one", "two"}, MapToSlice(map[int]string{2: "two", 0: "zero", 1: "one"}))
}
