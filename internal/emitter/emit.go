// emit.go wires the axis pipeline together with the two axes that sit
// outside the ordinary cartesian fan-out: port-knock expansion (which
// produces whole extra rules, not just fragments) and the trailing
// target axis (LOG + the action's `-j` line).
package emitter

import (
	"fmt"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/model"
)

// Lines is the pair of restore-script line lists a rule (or a whole table)
// contributes to: one for iptables-restore, one for ip6tables-restore.
type Lines struct {
	V4 []string
	V6 []string
}

// EmitRule runs the full §4.7 pipeline for one rule within one chain and
// returns the lines it contributes to each family's restore script.
func EmitRule(rule *model.Rule, chain *model.Chain) (Lines, error) {
	if rule.Knocks != nil && rule.Recent != nil {
		return Lines{}, apperr.About(apperr.CodeConfig, rule.Name, "knocks and recent are mutually exclusive")
	}

	var lines Lines
	if len(rule.Knocks) > 0 {
		knockLines, err := emitKnockChain(rule, chain)
		if err != nil {
			return Lines{}, err
		}
		lines.V4 = append(lines.V4, knockLines.V4...)
		lines.V6 = append(lines.V6, knockLines.V6...)

		final := *rule
		final.Knocks = nil
		final.Recent = append(final.Recent, model.RecentOp{
			Op:       model.RecentCheck,
			ListName: knockListName(rule.Name, len(rule.Knocks)-1),
			Seconds:  int(rule.Knocks[len(rule.Knocks)-1].Window.Seconds()),
		})
		rule = &final
	}

	builders, err := runPipeline(pipelineAxes, &ruleContext{rule: rule, chain: chain})
	if err != nil {
		return Lines{}, err
	}

	for _, b := range builders {
		if rule.Log != "" {
			prefix := truncateComment(fmt.Sprintf("%s %s:", chain.LogPrefix, rule.Log), 29)
			renderBuilder(&lines, b.appendBoth(fmt.Sprintf(`-j LOG --log-prefix "%s"`, strings.ReplaceAll(prefix, `"`, "'"))), chain.Name)
		}
		b, err = axisTarget(b, rule, chain)
		if err != nil {
			return Lines{}, err
		}
		renderBuilder(&lines, b, chain.Name)
	}
	return lines, nil
}

func knockListName(ruleName string, step int) string {
	return fmt.Sprintf("knock_%s_%d", ruleName, step+1)
}

// emitKnockChain implements spec §4.7 axis 1: one rule per knock step (the
// first sets knock_1, each later one checks knock_{k-1} and sets knock_k;
// EmitRule adds the final rule that checks the last list), each matching only the knock
// step's own protocol/port so the sequence can be walked independently of
// the rule's other matches. No `-j` target is emitted on these rules.
func emitKnockChain(rule *model.Rule, chain *model.Chain) (Lines, error) {
	var lines Lines

	if len(rule.KnockClear) > 0 {
		clearLine := fmt.Sprintf("-A %s", chain.Name)
		for _, name := range rule.KnockClear {
			clearLine += fmt.Sprintf(" -m recent --remove --name %s", name)
		}
		lines.V4 = append(lines.V4, clearLine)
		lines.V6 = append(lines.V6, clearLine)
	}

	for i, step := range rule.Knocks {
		line := fmt.Sprintf("-A %s -p %s --dport %d", chain.Name, step.Protocol, step.Port)
		if i > 0 {
			prev := rule.Knocks[i-1]
			line += fmt.Sprintf(" -m recent --rcheck --seconds %d --name %s", int(prev.Window.Seconds()), knockListName(rule.Name, i-1))
		}
		line += fmt.Sprintf(" -m recent --set --name %s", knockListName(rule.Name, i))
		lines.V4 = append(lines.V4, line)
		lines.V6 = append(lines.V6, line)
	}
	return lines, nil
}

// axisTarget implements spec §4.7 axis 16: the action's `-j` line. The
// optional LOG line for the same matches is rendered by EmitRule just
// before it.
func axisTarget(b builder, rule *model.Rule, chain *model.Chain) (builder, error) {
	tail, tailV6, err := actionTail(rule.Action)
	if err != nil {
		return builder{}, err
	}
	target := rule.Action.Verb
	if target == "CALL" {
		target = rule.Action.Param
	}
	b = b.appendBoth(fmt.Sprintf("-j %s", target))
	if tail != "" {
		b = b.appendV4(tail)
	}
	if tailV6 != "" {
		b = b.appendV6(tailV6)
	} else if tail != "" && tailV6 == "" && rule.Action.Verb != "REJECT" {
		b = b.appendV6(tail)
	}
	return b, nil
}

func truncateComment(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func actionTail(a model.Action) (v4Tail, v6Tail string, err error) {
	switch a.Verb {
	case "REJECT":
		return fmt.Sprintf("--reject-with %s", a.Param), fmt.Sprintf("--reject-with %s", a.Param2), nil
	case "CALL":
		return "", "", nil // axisTarget jumps to Param, the target chain, instead of "CALL"
	case "DNAT", "SNAT", "REDIRECT", "MASQUERADE":
		return a.Param, a.Param, nil
	default:
		return "", "", nil
	}
}

// renderBuilder decides, per spec §4.7's closing paragraph, whether a
// builder contributes one shared line or two family-specific lines, and
// appends the `-A CHAIN` prefix.
func renderBuilder(lines *Lines, b builder, chainName string) {
	prefix := "-A " + chainName
	if b.v4 == b.v6 && !b.forced() {
		line := strings.TrimSpace(prefix + " " + b.v4)
		lines.V4 = append(lines.V4, line)
		lines.V6 = append(lines.V6, line)
		return
	}
	if b.forceV4 || !b.forceV6 {
		lines.V4 = append(lines.V4, strings.TrimSpace(prefix+" "+b.v4))
	}
	if b.forceV6 || !b.forceV4 {
		lines.V6 = append(lines.V6, strings.TrimSpace(prefix+" "+b.v6))
	}
}
