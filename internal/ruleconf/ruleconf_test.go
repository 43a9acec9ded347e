package ruleconf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile_BasicAssignment(t *testing.T) {
	params, err := ParseFile(strings.NewReader("rule::ssh::action = ACCEPT\n"))
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "rule", params[0].Kind)
	assert.Equal(t, "ssh", params[0].Instance)
	assert.Equal(t, "action", params[0].Field)
	assert.Equal(t, OpSet, params[0].Op)
}

func TestParseFile_LineContinuation(t *testing.T) {
	params, err := ParseFile(strings.NewReader("rule::ssh::comment = hello \\\nworld\n"))
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "hello world", params[0].Value)
}

func TestParseFile_CommentsSkipped(t *testing.T) {
	params, err := ParseFile(strings.NewReader("# a comment\n; another\nrule::x::action = DROP\n"))
	require.NoError(t, err)
	require.Len(t, params, 1)
}

func TestParseFile_Operators(t *testing.T) {
	input := "variables::foo += bar\nvariables::baz ?= qux\nvariables::quux := 1\n"
	params, err := ParseFile(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, OpAppend, params[0].Op)
	assert.Equal(t, OpSetIfAbsent, params[1].Op)
	assert.Equal(t, OpSetOnce, params[2].Op)
}

func TestParamMap_SetOnceFailsOnSecondWrite(t *testing.T) {
	m := NewParamMap()
	p := Param{Kind: "rule", Instance: "x", Field: "action", Value: "ACCEPT", Op: OpSetOnce}
	require.NoError(t, m.Apply(p))
	err := m.Apply(p)
	assert.Error(t, err)
}

func TestParamMap_SetIfAbsentKeepsFirst(t *testing.T) {
	m := NewParamMap()
	require.NoError(t, m.Apply(Param{Field: "x", Value: "first", Op: OpSetIfAbsent}))
	require.NoError(t, m.Apply(Param{Field: "x", Value: "second", Op: OpSetIfAbsent}))
	v, ok := m.Get("x")
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestParamMap_AppendConcatenates(t *testing.T) {
	m := NewParamMap()
	require.NoError(t, m.Apply(Param{Field: "x", Value: "a", Op: OpAppend}))
	require.NoError(t, m.Apply(Param{Field: "x", Value: "b", Op: OpAppend}))
	v, _ := m.Get("x")
	assert.Equal(t, "a,b", v)
}

func TestParseLine_MissingOperatorRejected(t *testing.T) {
	_, err := ParseFile(strings.NewReader("not-an-assignment\n"))
	assert.Error(t, err)
}
