package loader

import (
	"path/filepath"
	"testing"

	"github.com/m2osw/ipload/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectSets_OptimizesIPListFileEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "allowed.list"), "10.0.0.0/25\n10.0.0.128/25\n")

	rule := &model.Rule{
		Name:        "x",
		Sets:        []string{"allowed"},
		SetType:     "ip",
		SetFromFile: []string{"allowed.list"},
	}
	doc := &Document{ChainRefs: map[model.TableName][]*model.ChainRef{
		model.TableFilter: {{
			Table: model.TableFilter,
			Sections: []*model.SectionRef{{
				Section: &model.Section{Name: "default"},
				Rules:   []*model.Rule{rule},
			}},
		}},
	}}

	sets, err := CollectSets(doc, dir)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	// the two adjacent /25s coalesce into a single contiguous range.
	assert.Equal(t, []string{"10.0.0.0-10.0.0.255"}, sets[0].Data)
}

func TestCollectSets_MissingIPListFile(t *testing.T) {
	dir := t.TempDir()
	rule := &model.Rule{Name: "x", Sets: []string{"allowed"}, SetFromFile: []string{"missing.list"}}
	doc := &Document{ChainRefs: map[model.TableName][]*model.ChainRef{
		model.TableFilter: {{
			Table:    model.TableFilter,
			Sections: []*model.SectionRef{{Section: &model.Section{Name: "default"}, Rules: []*model.Rule{rule}}},
		}},
	}}

	_, err := CollectSets(doc, dir)
	assert.Error(t, err)
}
