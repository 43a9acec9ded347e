package emitter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m2osw/ipload/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inputChain() *model.Chain {
	return &model.Chain{Name: "INPUT", Policy: model.PolicyDrop, Closing: model.ClosingDrop}
}

func TestEmitRule_SingleAcceptRule(t *testing.T) {
	rule := &model.Rule{
		Name:             "ssh",
		Enabled:          true,
		Chains:           []string{"INPUT"},
		Protocols:        []string{"tcp"},
		DestinationPorts: []string{"22"},
		Action:           model.Action{Verb: "ACCEPT"},
	}
	lines, err := EmitRule(rule, inputChain())
	require.NoError(t, err)
	require.Len(t, lines.V4, 1)
	assert.Equal(t, "-A INPUT -p tcp --dport 22 -j ACCEPT", lines.V4[0])
	assert.Equal(t, lines.V4, lines.V6)
}

func TestEmitRule_MultiportExpansion(t *testing.T) {
	rule := &model.Rule{
		Name:             "web",
		Enabled:          true,
		Chains:           []string{"INPUT"},
		Protocols:        []string{"tcp"},
		DestinationPorts: []string{"80", "443", "8000-8010"},
		Action:           model.Action{Verb: "ACCEPT"},
	}
	lines, err := EmitRule(rule, inputChain())
	require.NoError(t, err)
	require.Len(t, lines.V4, 1)
	assert.Contains(t, lines.V4[0], "-m multiport --dports 80,443,8000-8010")
}

func TestEmitRule_IdempotentOnSameModel(t *testing.T) {
	rule := &model.Rule{
		Name:             "ssh",
		Enabled:          true,
		Chains:           []string{"INPUT"},
		Protocols:        []string{"tcp"},
		DestinationPorts: []string{"22"},
		Action:           model.Action{Verb: "ACCEPT"},
	}
	chain := inputChain()
	first, err := EmitRule(rule, chain)
	require.NoError(t, err)
	second, err := EmitRule(rule, chain)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-emitting the same rule produced different lines (-first +second):\n%s", diff)
	}
}

func TestEmitRule_IcmpForcesIPv4Only(t *testing.T) {
	rule := &model.Rule{
		Name:      "icmp-echo",
		Enabled:   true,
		Chains:    []string{"INPUT"},
		Protocols: []string{"icmp"},
		Action:    model.Action{Verb: "ACCEPT"},
	}
	lines, err := EmitRule(rule, inputChain())
	require.NoError(t, err)
	require.Len(t, lines.V4, 1)
	assert.Empty(t, lines.V6)
}

func TestEmitRule_Icmpv6ForcesIPv6Only(t *testing.T) {
	rule := &model.Rule{
		Name:      "icmp6-echo",
		Enabled:   true,
		Chains:    []string{"INPUT"},
		Protocols: []string{"icmpv6"},
		Action:    model.Action{Verb: "ACCEPT"},
	}
	lines, err := EmitRule(rule, inputChain())
	require.NoError(t, err)
	require.Len(t, lines.V6, 1)
	assert.Empty(t, lines.V4)
}

func TestEmitRule_RejectUsesPerFamilyAlias(t *testing.T) {
	rule := &model.Rule{
		Name:    "reject-all",
		Enabled: true,
		Chains:  []string{"INPUT"},
		Action:  model.Action{Verb: "REJECT", Param: "icmp-port-unreachable", Param2: "icmp6-port-unreachable"},
	}
	lines, err := EmitRule(rule, inputChain())
	require.NoError(t, err)
	assert.Contains(t, lines.V4[0], "--reject-with icmp-port-unreachable")
	assert.Contains(t, lines.V6[0], "--reject-with icmp6-port-unreachable")
}

func TestEmitTable_SkipsEmptyTableByDefault(t *testing.T) {
	chain := &model.Chain{Name: "INPUT", Policy: model.PolicyDrop, Closing: model.ClosingDrop}
	ref := &model.ChainRef{Table: model.TableFilter, Chain: chain}
	lines, err := EmitTable(model.TableFilter, []*model.ChainRef{ref}, Options{})
	require.NoError(t, err)
	assert.Empty(t, lines.V4)
}

func TestEmitTable_FramesWithPolicyAndClosing(t *testing.T) {
	chain := &model.Chain{Name: "INPUT", Policy: model.PolicyDrop, Closing: model.ClosingDrop}
	section := &model.Section{Name: "default", Default: true}
	sref := &model.SectionRef{Section: section, Rules: []*model.Rule{{
		Name: "ssh", Enabled: true, Chains: []string{"INPUT"},
		Protocols: []string{"tcp"}, DestinationPorts: []string{"22"},
		Action: model.Action{Verb: "ACCEPT"},
	}}}
	ref := &model.ChainRef{Table: model.TableFilter, Chain: chain, Sections: []*model.SectionRef{sref}}

	lines, err := EmitTable(model.TableFilter, []*model.ChainRef{ref}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "*filter", lines.V4[0])
	assert.Equal(t, ":INPUT DROP [0:0]", lines.V4[1])
	assert.Equal(t, "COMMIT", lines.V4[len(lines.V4)-1])
	assert.Contains(t, lines.V4, "-A INPUT -j DROP")
}
