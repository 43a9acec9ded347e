package rulesdoc

import (
	"testing"

	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/variables"
	"github.com/stretchr/testify/assert"
)

func TestShowDependencies_RendersSectionAnnotations(t *testing.T) {
	chain := &model.Chain{Name: "INPUT", Policy: model.PolicyAccept}
	secA := &model.Section{Name: "A"}
	secB := &model.Section{Name: "B", After: []string{"A"}}
	rule := &model.Rule{Name: "ssh", Action: model.Action{Verb: "ACCEPT"}}

	doc := &model.Document{
		Chains: map[string]*model.Chain{"INPUT": chain},
		ChainRefs: map[model.TableName][]*model.ChainRef{
			model.TableFilter: {
				{
					Table: model.TableFilter,
					Chain: chain,
					Sections: []*model.SectionRef{
						{Section: secA, Rules: []*model.Rule{rule}},
						{Section: secB},
					},
				},
			},
		},
	}

	out := ShowDependencies(doc)
	assert.Contains(t, out, "filter:INPUT:")
	assert.Contains(t, out, "  A")
	assert.Contains(t, out, "  B: after A")
	assert.Contains(t, out, "    ssh")
}

func TestDumpVariables_SortedHCLAttributes(t *testing.T) {
	vars := variables.New()
	vars.Set("zone", "trusted")
	vars.Set("admin_ip", "10.0.0.5")

	out := string(DumpVariables(vars))
	assert.Contains(t, out, `variables {`)
	assert.Contains(t, out, `admin_ip = "10.0.0.5"`)
	assert.Contains(t, out, `zone     = "trusted"`)
	assert.Less(t, indexOf(out, "admin_ip"), indexOf(out, "zone"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
