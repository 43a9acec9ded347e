package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverFiles_GeneralBeforeSpecialized(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "specific", "ssh.conf"), "rule::ssh::action = ACCEPT\n")
	writeFile(t, filepath.Join(dir, "general", "base.conf"), "rule::base::action = DROP\n")

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "general")
}

func TestDiscoverFiles_OverridesLast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ssh.conf"), "rule::ssh::action = ACCEPT\n")
	writeFile(t, filepath.Join(dir, "ipload.d", "10-ssh.conf"), "rule::ssh::action = DROP\n")

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[len(files)-1], "ipload.d")
}

func TestLoad_AssignmentOperatorsFold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.conf"), "rule::ssh::action = ACCEPT\nrule::ssh::chains = INPUT\n")
	writeFile(t, filepath.Join(dir, "ipload.d", "10-override.conf"), "rule::ssh::action = DROP\n")

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	log, _ := logger.New("info", "text")
	pm, _, err := Load(files, log)
	require.NoError(t, err)

	v, ok := pm.Get("rule::ssh::action")
	require.True(t, ok)
	assert.Equal(t, "DROP", v)
}

func TestBuild_SingleAcceptRule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.conf"), "rule::ssh::chains = INPUT\nrule::ssh::protocols = tcp\nrule::ssh::destination_ports = 22\nrule::ssh::action = ACCEPT\n")

	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	log, _ := logger.New("info", "text")
	pm, vars, err := Load(files, log)
	require.NoError(t, err)

	doc, invalid := Build(pm, vars)
	assert.Empty(t, invalid)
	require.Contains(t, doc.ChainRefs, model.TableFilter)
	require.Len(t, doc.ChainRefs["filter"], 1)
	ref := doc.ChainRefs["filter"][0]
	require.Len(t, ref.Sections, 1)
	require.Len(t, ref.Sections[0].Rules, 1)
	assert.Equal(t, "ssh", ref.Sections[0].Rules[0].Name)
}

func TestBuild_SectionDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.conf"), `
section::A::default = true
section::B::after = A
section::C::before = A

rule::r1::chains = INPUT
rule::r1::section = A
rule::r1::action = ACCEPT

rule::r2::chains = INPUT
rule::r2::section = B
rule::r2::action = ACCEPT

rule::r3::chains = INPUT
rule::r3::section = C
rule::r3::action = ACCEPT
`)
	files, err := DiscoverFiles(dir)
	require.NoError(t, err)
	log, _ := logger.New("info", "text")
	pm, vars, err := Load(files, log)
	require.NoError(t, err)

	doc, invalid := Build(pm, vars)
	assert.Empty(t, invalid)
	ref := doc.ChainRefs["filter"][0]
	var order []string
	for _, sref := range ref.Sections {
		order = append(order, sref.Section.Name)
	}
	assert.Equal(t, []string{"C", "A", "B"}, order)
}

func TestBuild_RejectsRuleNamedInItsOwnBeforeList(t *testing.T) {
	r, err := buildRule("ssh", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "before": "ssh",
	})
	assert.Nil(t, r)
	assert.Error(t, err)
}

func TestBuild_MutuallyExclusiveSourceAndExceptSource(t *testing.T) {
	_, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "source": "1.2.3.4", "except_source": "5.6.7.8",
	})
	assert.Error(t, err)
}

func TestBuildRule_LimitRateForm(t *testing.T) {
	r, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "limit": "5/second,10",
	})
	require.NoError(t, err)
	require.NotNil(t, r.Limit)
	assert.True(t, r.Limit.HasRate)
	assert.Equal(t, 5, r.Limit.Rate)
	assert.Equal(t, "second", r.Limit.RateUnit)
	assert.Equal(t, 10, r.Limit.Burst)
}

func TestBuildRule_LimitConnlimitForm(t *testing.T) {
	r, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "limit": "<=3,<-24",
	})
	require.NoError(t, err)
	require.NotNil(t, r.Limit)
	assert.True(t, r.Limit.HasConnLimit)
	assert.True(t, r.Limit.ConnLimitUpto)
	assert.Equal(t, 3, r.Limit.ConnLimitN)
	assert.Equal(t, 24, r.Limit.ConnLimitMask)
	assert.True(t, r.Limit.ConnLimitDst)
}

func TestBuildRule_LimitRejectsBadRateUnit(t *testing.T) {
	_, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "limit": "5/fortnight",
	})
	assert.Error(t, err)
}

func TestBuildRule_RecentStandaloneParsed(t *testing.T) {
	r, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT", "recent": "check:knock3:seconds=10:hitcount=3:rttl",
	})
	require.NoError(t, err)
	require.Len(t, r.Recent, 1)
	op := r.Recent[0]
	assert.Equal(t, model.RecentCheck, op.Op)
	assert.Equal(t, "knock3", op.ListName)
	assert.Equal(t, 10, op.Seconds)
	assert.Equal(t, 3, op.HitCount)
	assert.True(t, op.RTTL)
}

func TestBuildRule_RecentAndKnocksMutuallyExclusive(t *testing.T) {
	_, err := buildRule("x", map[string]string{
		"chains": "INPUT", "action": "ACCEPT",
		"knocks": "tcp:1111/10s,tcp:2222/10s",
		"recent": "set:foo",
	})
	assert.Error(t, err)
}
