package depsort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func names(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestSort_BeforeAfterOrdering(t *testing.T) {
	items := []Item{
		{Name: "A"},
		{Name: "B", After: []string{"A"}},
		{Name: "C", Before: []string{"A"}},
	}
	sorted := Sort(items)
	assert.Equal(t, []string{"C", "A", "B"}, names(sorted))
}

func TestSort_StableOnNoRelation(t *testing.T) {
	items := []Item{{Name: "x"}, {Name: "y"}, {Name: "z"}}
	sorted := Sort(items)
	assert.Equal(t, []string{"x", "y", "z"}, names(sorted))
}

func TestSort_UnknownAfterTargetIgnored(t *testing.T) {
	items := []Item{{Name: "A", After: []string{"does-not-exist"}}}
	sorted := Sort(items)
	assert.Equal(t, []string{"A"}, names(sorted))
}

func TestSort_CycleDoesNotHang(t *testing.T) {
	items := []Item{
		{Name: "A", After: []string{"B"}},
		{Name: "B", After: []string{"A"}},
	}
	sorted := Sort(items)
	assert.Len(t, sorted, 2)
}
