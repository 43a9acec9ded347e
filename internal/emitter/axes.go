package emitter

import (
	"fmt"
	"strings"

	"github.com/m2osw/ipload/internal/addrparse"
	"github.com/m2osw/ipload/internal/model"
)

// ruleContext carries everything an axis needs beyond the builder itself:
// the rule, the chain it is being emitted into, and the table currently
// being rendered (FORWARD/OUTPUT change how the combined-interfaces axis
// behaves).
type ruleContext struct {
	rule  *model.Rule
	chain *model.Chain
	table model.TableName
}

var pipelineAxes = []axis{
	axisSourceInterfaces,
	axisDestinationInterfaces,
	axisCombinedInterfaces,
	axisProtocols,
	axisSources,
	axisSourcePorts,
	axisDestinations,
	axisDestinationPorts,
	axisSets,
	axisConntrack,
	axisLimits,
	axisStates,
	axisRecent,
	axisComment,
}

func axisSourceInterfaces(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.SourceInterfaces) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		for _, iface := range ctx.rule.SourceInterfaces {
			out = append(out, b.appendBoth(fmt.Sprintf("-i %s", iface)))
		}
	}
	return out, nil
}

func axisDestinationInterfaces(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.DestinationInterfaces) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		for _, iface := range ctx.rule.DestinationInterfaces {
			out = append(out, b.appendBoth(fmt.Sprintf("-o %s", iface)))
		}
	}
	return out, nil
}

func axisCombinedInterfaces(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.Interfaces) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		for _, iface := range ctx.rule.Interfaces {
			switch ctx.chain.Name {
			case "OUTPUT":
				out = append(out, b.appendBoth(fmt.Sprintf("-o %s", iface)))
			case "FORWARD":
				out = append(out, b.appendBoth(fmt.Sprintf("-i %s -o %s", iface, iface)))
			default:
				out = append(out, b.appendBoth(fmt.Sprintf("-i %s", iface)))
			}
		}
	}
	return out, nil
}

func axisProtocols(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.Protocols) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		for _, proto := range ctx.rule.Protocols {
			nb := b
			switch strings.ToLower(proto) {
			case "icmp":
				nb = nb.appendV4(fmt.Sprintf("-p %s", proto))
			case "icmpv6", "ipv6-icmp":
				nb = nb.appendV6("-p icmpv6")
			default:
				nb = nb.appendBoth(fmt.Sprintf("-p %s", proto))
			}
			if hasMultiport(ctx.rule) {
				nb = nb.appendBoth("-m multiport")
			}
			out = append(out, nb)
		}
	}
	return out, nil
}

// hasMultiport reports whether exactly one of source-ports/destination-
// ports is multi-valued and the other empty, per spec §4.7 axis 7/9.
func hasMultiport(r *model.Rule) bool {
	s, d := len(r.SourcePorts), len(r.DestinationPorts)
	return (s > 1 && d == 0) || (d > 1 && s == 0)
}

func axisSources(in []builder, ctx *ruleContext) ([]builder, error) {
	return axisAddresses(in, ctx.rule.Source, ctx.rule.ExceptSource, "-s", false)
}

func axisDestinations(in []builder, ctx *ruleContext) ([]builder, error) {
	return axisAddresses(in, ctx.rule.Destination, ctx.rule.ExceptDestination, "-d", true)
}

// axisAddresses implements spec §4.7 axes 6 and 8: one rule per address
// (or per except-address with a leading "!"), fanning out on family; a
// destination of 0.0.0.0/96 gets the IPv4-compatible ::ffff:0.0.0.0/96
// rendering on the v6 side.
func axisAddresses(in []builder, addrs, except []string, flag string, isDestination bool) ([]builder, error) {
	list := addrs
	negate := false
	if len(list) == 0 && len(except) > 0 {
		list = except
		negate = true
	}
	if len(list) == 0 {
		return in, nil
	}

	var out []builder
	for _, b := range in {
		for _, raw := range list {
			prefix := flag + " "
			if negate {
				prefix = "! " + flag + " "
			}
			// Not a valid IPv4 prefix, so it is matched before parsing.
			if isDestination && raw == "0.0.0.0/96" {
				out = append(out, b.appendV6(prefix+"::ffff:0.0.0.0/96"))
				continue
			}
			entries, err := addrparse.Parse(raw, addrparse.DefaultAddressOptions())
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if raw == "0.0.0.0" && !isDestination {
					out = append(out, b.appendV4(prefix+"0.0.0.0").appendV6AltRoute())
					continue
				}
				addrText := e.String()
				if e.IsIPv6() {
					out = append(out, b.appendV6(prefix+addrText))
				} else {
					out = append(out, b.appendV4(prefix+addrText))
				}
			}
		}
	}
	return out, nil
}

// appendV6AltRoute is the IPv6 counterpart of the 0.0.0.0 default-route
// special case: "-s 0.0.0.0" on v4 pairs with "-s ::" on v6.
func (b builder) appendV6AltRoute() builder {
	return b.appendV6("-s ::")
}

func axisSourcePorts(in []builder, ctx *ruleContext) ([]builder, error) {
	return axisPorts(in, ctx.rule.SourcePorts, ctx.rule.DestinationPorts, "--sport", "--sports")
}

func axisDestinationPorts(in []builder, ctx *ruleContext) ([]builder, error) {
	return axisPorts(in, ctx.rule.DestinationPorts, ctx.rule.SourcePorts, "--dport", "--dports")
}

// axisPorts implements spec §4.7 axes 7 and 9: a multiport chunk when this
// side is the multi-valued one and the other side is empty, one rule per
// port otherwise.
func axisPorts(in []builder, ports, other []string, singleFlag, multiFlag string) ([]builder, error) {
	if len(ports) == 0 {
		return in, nil
	}
	if len(ports) > 1 && len(other) == 0 {
		var out []builder
		for _, b := range in {
			for _, chunk := range chunkPorts(ports, 15) {
				out = append(out, b.appendBoth(fmt.Sprintf("%s %s", multiFlag, strings.Join(chunk, ","))))
			}
		}
		return out, nil
	}
	var out []builder
	for _, b := range in {
		for _, p := range ports {
			out = append(out, b.appendBoth(fmt.Sprintf("%s %s", singleFlag, p)))
		}
	}
	return out, nil
}

func chunkPorts(ports []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(ports); i += size {
		end := i + size
		if end > len(ports) {
			end = len(ports)
		}
		chunks = append(chunks, ports[i:end])
	}
	return chunks
}

func axisSets(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.Sets) == 0 {
		return in, nil
	}
	addressBearing := strings.Contains(ctx.rule.SetType, "ip") || strings.Contains(ctx.rule.SetType, "net")
	var out []builder
	for _, b := range in {
		for _, name := range ctx.rule.Sets {
			if addressBearing {
				out = append(out, b.appendV4(fmt.Sprintf("-m set --match-set %s_ipv4 src", name)))
				out = append(out, b.appendV6(fmt.Sprintf("-m set --match-set %s_ipv6 src", name)))
				continue
			}
			out = append(out, b.appendBoth(fmt.Sprintf("-m set --match-set %s src", name)))
		}
	}
	return out, nil
}

func axisConntrack(in []builder, ctx *ruleContext) ([]builder, error) {
	if len(ctx.rule.Conntrack) == 0 {
		return in, nil
	}
	var out []builder
	for _, b := range in {
		for _, ct := range ctx.rule.Conntrack {
			frag, v6Only, err := renderConntrack(ct)
			if err != nil {
				return nil, err
			}
			if v6Only {
				out = append(out, b.appendV6(frag))
			} else {
				out = append(out, b.appendBoth(frag))
			}
		}
	}
	return out, nil
}

func axisLimits(in []builder, ctx *ruleContext) ([]builder, error) {
	l := ctx.rule.Limit
	if l == nil {
		return in, nil
	}
	var frag string
	v6Only := false
	if l.HasRate {
		frag = fmt.Sprintf("-m limit --limit %d/%s --limit-burst %d", l.Rate, l.RateUnit, l.Burst)
	} else if l.HasConnLimit {
		verb := "--connlimit-above"
		if l.ConnLimitUpto {
			verb = "--connlimit-upto"
		}
		frag = fmt.Sprintf("-m connlimit %s %d", verb, l.ConnLimitN)
		if l.ConnLimitMass > 0 {
			frag += fmt.Sprintf(" --connlimit-mass %d", l.ConnLimitMass)
		}
		if l.ConnLimitDst {
			frag += " --connlimit-daddr"
		}
		if l.ConnLimitMask > 32 {
			v6Only = true
		}
	}
	var out []builder
	for _, b := range in {
		if v6Only {
			out = append(out, b.appendV6(frag))
		} else {
			out = append(out, b.appendBoth(frag))
		}
	}
	return out, nil
}

func axisComment(in []builder, ctx *ruleContext) ([]builder, error) {
	if ctx.rule.Comment == "" {
		return in, nil
	}
	comment := strings.ReplaceAll(ctx.rule.Comment, `"`, "'")
	var out []builder
	for _, b := range in {
		out = append(out, b.appendBoth(fmt.Sprintf(`-m comment --comment "%s"`, comment)))
	}
	return out, nil
}
