package emitter

import (
	"fmt"
	"strings"

	"github.com/m2osw/ipload/internal/conntrack"
	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/stategrammar"
)

// axisStates implements spec §4.7 axis 13: `-m state`/`-m tcp --syn`/
// `--tcp-flags`, plus `-m icmp`/`-m icmpv6` type matches, depending on the
// parsed state result and the rule's protocol list.
func axisStates(in []builder, ctx *ruleContext) ([]builder, error) {
	st := ctx.rule.State
	if st == nil {
		return in, nil
	}

	isUDP := containsFold(ctx.rule.Protocols, "udp")

	var out []builder
	for _, b := range in {
		v6Side := b.forceV6 && !b.forceV4
		for _, c := range st.Compares {
			frag, v6Only, err := renderStateCompare(c, isUDP, v6Side)
			if err != nil {
				return nil, err
			}
			if v6Only {
				out = append(out, b.appendV6(frag))
			} else {
				out = append(out, b.appendBoth(frag))
			}
		}
		if len(st.Compares) == 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func renderStateCompare(c stategrammar.Compare, isUDP, v6Side bool) (frag string, v6Only bool, err error) {
	switch c.Kind {
	case stategrammar.KindConnState:
		switch c.Name {
		case "established", "related":
			return "-m state --state ESTABLISHED,RELATED", false, nil
		case "invalid":
			return "-m state --state INVALID", false, nil
		}
	case stategrammar.KindICMP:
		if v6Side {
			return fmt.Sprintf("-m icmpv6 --icmpv6-type %s", c.Name), true, nil
		}
		switch c.Name {
		case "timestamp-request":
			return "-m icmp --icmp-type timestamp-request", false, nil
		case "timestamp-reply":
			return "-m icmp --icmp-type timestamp-reply", false, nil
		case "any":
			return "-m icmp --icmp-type any", false, nil
		}
	case stategrammar.KindTCPMSS:
		if c.MSSFrom == c.MSSTo {
			return fmt.Sprintf("-m tcpmss --mss %d", c.MSSFrom), false, nil
		}
		return fmt.Sprintf("-m tcpmss --mss %d:%d", c.MSSFrom, c.MSSTo), false, nil
	case stategrammar.KindFlags:
		if c.Mask == stategrammar.FlagSyn|stategrammar.FlagRst|stategrammar.FlagAck|stategrammar.FlagFin &&
			c.Compare == stategrammar.FlagSyn {
			if isUDP {
				frag = "-m state --state NEW"
			} else {
				frag = "-m tcp --syn"
			}
			if c.Negate {
				frag = "! " + frag
			}
			return frag, false, nil
		}
		mask := flagsToTCPFlagsList(c.Mask)
		cmp := flagsToTCPFlagsList(c.Compare)
		frag = fmt.Sprintf("-m tcp --tcp-flags %s %s", mask, cmp)
		if c.Negate {
			frag = "! " + frag
		}
		return frag, false, nil
	}
	return "", false, nil
}

func flagsToTCPFlagsList(f stategrammar.Flag) string {
	names := []struct {
		bit  stategrammar.Flag
		name string
	}{
		{stategrammar.FlagSyn, "SYN"}, {stategrammar.FlagAck, "ACK"}, {stategrammar.FlagFin, "FIN"},
		{stategrammar.FlagRst, "RST"}, {stategrammar.FlagUrg, "URG"}, {stategrammar.FlagPsh, "PSH"},
	}
	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, ",")
}

// axisRecent implements spec §4.7 axis 14: one `-m recent` block per
// recent operation. A mask above 32 forces IPv6-only emission; the mask is
// always rendered as its bit count, and a mask of 96 gets no special
// IPv4-compatible form.
func axisRecent(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.Recent) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		nb := b
		for _, op := range ctx.rule.Recent {
			frag := renderRecentOp(op)
			if op.MaskBits > 32 {
				nb = nb.appendV6(frag)
			} else {
				nb = nb.appendBoth(frag)
			}
		}
		out = append(out, nb)
	}
	return out, nil
}

func renderRecentOp(op model.RecentOp) string {
	var verb string
	switch op.Op {
	case model.RecentSet:
		verb = "--set"
	case model.RecentCheck:
		verb = "--rcheck"
	case model.RecentUpdate:
		verb = "--update"
	case model.RecentRemove:
		verb = "--remove"
	}
	parts := []string{"-m recent", verb, "--name", op.ListName}
	if op.Seconds > 0 {
		parts = append(parts, "--seconds", fmt.Sprintf("%d", op.Seconds))
	}
	if op.HitCount > 0 {
		parts = append(parts, "--hitcount", fmt.Sprintf("%d", op.HitCount))
	}
	if op.Reap {
		parts = append(parts, "--reap")
	}
	if op.RTTL {
		parts = append(parts, "--rttl")
	}
	if op.MaskBits > 0 {
		parts = append(parts, "--mask", fmt.Sprintf("%d", op.MaskBits))
	}
	frag := strings.Join(parts, " ")
	if op.Negate {
		frag = "! " + frag
	}
	return frag
}

// renderConntrack renders one parsed conntrack clause into its `-m
// conntrack ...` fragment, per spec §4.7 axis 11.
func renderConntrack(ct conntrack.Result) (frag string, v6Only bool, err error) {
	parts := []string{"-m conntrack"}

	for _, s := range ct.States {
		f := "--ctstate " + strings.ToUpper(s.Value)
		if s.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}
	for _, s := range ct.Statuses {
		f := "--ctstatus " + strings.ToUpper(s.Value)
		if s.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}
	for _, p := range ct.Protocols {
		f := "--ctproto " + p.Value
		if p.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}
	for _, e := range ct.Endpoints {
		if e.Address.IsIPv6() {
			v6Only = true
		}
		flag := directionAddrFlag(e.Direction)
		f := fmt.Sprintf("%s %s", flag, e.Address.String())
		if e.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}
	for _, p := range ct.Ports {
		flag := directionPortFlag(p.Direction)
		var f string
		if p.To != p.From {
			f = fmt.Sprintf("%s %d-%d", flag, p.From, p.To)
		} else {
			f = fmt.Sprintf("%s %d", flag, p.From)
		}
		if p.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}
	if ct.Expire != nil {
		var f string
		if ct.Expire.To != ct.Expire.From {
			f = fmt.Sprintf("--ctexpire %d:%d", ct.Expire.From, ct.Expire.To)
		} else {
			f = fmt.Sprintf("--ctexpire %d", ct.Expire.From)
		}
		if ct.Expire.Negate {
			f = "! " + f
		}
		parts = append(parts, f)
	}

	return strings.Join(parts, " "), v6Only, nil
}

func directionAddrFlag(d conntrack.Direction) string {
	switch d {
	case conntrack.DirOrigSrc:
		return "--ctorigsrc"
	case conntrack.DirOrigDst:
		return "--ctorigdst"
	case conntrack.DirReplSrc:
		return "--ctreplsrc"
	default:
		return "--ctrepldst"
	}
}

func directionPortFlag(d conntrack.Direction) string {
	switch d {
	case conntrack.DirOrigSrc:
		return "--ctorigsrcport"
	case conntrack.DirOrigDst:
		return "--ctorigdstport"
	case conntrack.DirReplSrc:
		return "--ctreplsrcport"
	default:
		return "--ctrepldstport"
	}
}
