package loader

import (
	"strconv"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/conntrack"
	"github.com/m2osw/ipload/internal/depsort"
	"github.com/m2osw/ipload/internal/knock"
	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/rejectalias"
	"github.com/m2osw/ipload/internal/ruleconf"
	"github.com/m2osw/ipload/internal/stategrammar"
	"github.com/m2osw/ipload/internal/variables"
)

// Document is the model's Document, the object graph Build returns.
type Document = model.Document

// instanceFields groups a kind's parameters by instance name, then by
// field name, expanding every value through the variable store as it
// goes (spec §4.1: interpolation happens once, at rule-construction
// time).
func instanceFields(pm *ruleconf.ParamMap, vars *variables.Store, kind string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, name := range pm.Names() {
		parts := strings.SplitN(name, "::", 3)
		if len(parts) < 2 || parts[0] != kind {
			continue
		}
		instance, field := "", parts[1]
		if len(parts) == 3 {
			instance, field = parts[1], parts[2]
		}
		raw, _ := pm.Get(name)
		if out[instance] == nil {
			out[instance] = make(map[string]string)
		}
		out[instance][field] = vars.Expand(raw)
	}
	return out
}

// Build assembles the Document from the accumulated parameter map.
// Rule/chain/section errors are per-item recoverable: an invalid rule is
// dropped with its error recorded in the returned map, and the load
// continues (spec §7: "A rule marked invalid emits nothing").
func Build(pm *ruleconf.ParamMap, vars *variables.Store) (*Document, map[string]error) {
	invalid := make(map[string]error)

	chainFields := instanceFields(pm, vars, "chain")
	sectionFields := instanceFields(pm, vars, "section")
	ruleFields := instanceFields(pm, vars, "rule")

	chains := make(map[string]*model.Chain)
	for name, fields := range chainFields {
		c, err := buildChain(name, fields)
		if err != nil {
			invalid["chain::"+name] = err
			continue
		}
		chains[name] = c
	}
	// System chains the config never mentions still exist implicitly.
	for _, name := range []string{"INPUT", "OUTPUT", "FORWARD", "PREROUTING", "POSTROUTING"} {
		if _, ok := chains[name]; !ok {
			chains[name] = &model.Chain{Name: name, Policy: model.PolicyDrop, Closing: model.ClosingDrop, Tables: []model.TableName{model.TableFilter}}
		}
	}

	sections := make(map[string]*model.Section)
	for name, fields := range sectionFields {
		sections[name] = buildSection(name, fields)
	}

	var rules []*model.Rule
	for name, fields := range ruleFields {
		r, err := buildRule(name, fields)
		if err != nil {
			invalid["rule::"+name] = err
			continue
		}
		rules = append(rules, r)
	}

	doc := &Document{Chains: chains, ChainRefs: make(map[model.TableName][]*model.ChainRef)}

	refIndex := make(map[string]*model.ChainRef) // "table/chain" -> ref
	sectionRefIndex := make(map[string]*model.SectionRef) // "table/chain/section" -> ref

	getChainRef := func(table model.TableName, chainName string) *model.ChainRef {
		key := string(table) + "/" + chainName
		if ref, ok := refIndex[key]; ok {
			return ref
		}
		chain, ok := chains[chainName]
		if !ok {
			chain = &model.Chain{Name: chainName, Closing: model.ClosingNone}
			chains[chainName] = chain
		}
		ref := &model.ChainRef{Table: table, Chain: chain}
		refIndex[key] = ref
		doc.ChainRefs[table] = append(doc.ChainRefs[table], ref)
		return ref
	}

	getSectionRef := func(ref *model.ChainRef, sectionName string) *model.SectionRef {
		key := string(ref.Table) + "/" + ref.Chain.Name + "/" + sectionName
		if sref, ok := sectionRefIndex[key]; ok {
			return sref
		}
		sec, ok := sections[sectionName]
		if !ok {
			sec = &model.Section{Name: sectionName, Default: sectionName == ""}
		}
		sref := &model.SectionRef{Section: sec}
		sectionRefIndex[key] = sref
		ref.Sections = append(ref.Sections, sref)
		return sref
	}

	for _, r := range rules {
		if len(r.Name) == 0 {
			continue
		}
		tables := r.Tables
		if len(tables) == 0 {
			tables = []model.TableName{model.TableFilter}
		}
		for _, table := range tables {
			for _, chainName := range r.Chains {
				ref := getChainRef(table, chainName)
				sref := getSectionRef(ref, r.Section)
				sref.Rules = append(sref.Rules, r)
			}
		}
	}

	for _, refs := range doc.ChainRefs {
		for _, ref := range refs {
			sortSectionsWithin(ref)
			for _, sref := range ref.Sections {
				sortRulesWithin(sref)
			}
		}
	}

	return doc, invalid
}

func sortSectionsWithin(ref *model.ChainRef) {
	items := make([]depsort.Item, len(ref.Sections))
	for i, sref := range ref.Sections {
		items[i] = depsort.Item{Name: sref.Section.Name, Before: sref.Section.Before, After: sref.Section.After}
	}
	sorted := depsort.Sort(items)
	byName := make(map[string]*model.SectionRef, len(ref.Sections))
	for _, sref := range ref.Sections {
		byName[sref.Section.Name] = sref
	}
	out := make([]*model.SectionRef, len(sorted))
	for i, it := range sorted {
		out[i] = byName[it.Name]
	}
	ref.Sections = out
}

func sortRulesWithin(sref *model.SectionRef) {
	items := make([]depsort.Item, len(sref.Rules))
	for i, r := range sref.Rules {
		items[i] = depsort.Item{Name: r.Name, Before: r.Before, After: r.After}
	}
	sorted := depsort.Sort(items)
	byName := make(map[string]*model.Rule, len(sref.Rules))
	for _, r := range sref.Rules {
		byName[r.Name] = r
	}
	out := make([]*model.Rule, len(sorted))
	for i, it := range sorted {
		out[i] = byName[it.Name]
	}
	sref.Rules = out
}

func buildChain(name string, f map[string]string) (*model.Chain, error) {
	c := &model.Chain{Name: name, Closing: model.ClosingDrop}
	c.Condition = f["condition"]
	if model.IsSystemChain(name) {
		switch strings.ToUpper(f["policy"]) {
		case "", "DROP":
			c.Policy = model.PolicyDrop
		case "ACCEPT":
			c.Policy = model.PolicyAccept
		default:
			return nil, apperr.About(apperr.CodeConfig, name, "system chain policy must be ACCEPT or DROP")
		}
	} else if f["policy"] != "" {
		return nil, apperr.About(apperr.CodeConfig, name, "user-defined chain must not declare a policy")
	}
	switch strings.ToUpper(f["closing"]) {
	case "":
		// keep default (DROP for system chains; none implied otherwise)
		if !model.IsSystemChain(name) {
			c.Closing = model.ClosingNone
		}
	case "RETURN":
		c.Closing = model.ClosingReturn
	case "DROP":
		c.Closing = model.ClosingDrop
	case "REJECT":
		c.Closing = model.ClosingReject
	default:
		c.Closing = model.ClosingType(f["closing"])
	}
	c.LogPrefix = f["log"]
	for _, t := range splitList(f["tables"]) {
		c.Tables = append(c.Tables, model.TableName(t))
	}
	return c, nil
}

func buildSection(name string, f map[string]string) *model.Section {
	return &model.Section{
		Name:    name,
		Before:  splitList(f["before"]),
		After:   splitList(f["after"]),
		Default: f["default"] == "true",
	}
}

func buildRule(name string, f map[string]string) (*model.Rule, error) {
	r := &model.Rule{Name: strings.ToLower(name), Enabled: true}
	r.Description = f["description"]
	r.Comment = truncate(strings.ReplaceAll(f["comment"], `"`, ""), 256)

	for _, t := range splitList(f["tables"]) {
		r.Tables = append(r.Tables, model.TableName(t))
	}
	r.Chains = splitList(f["chains"])
	if len(r.Chains) == 0 {
		return nil, apperr.About(apperr.CodeConfig, name, "rule must specify at least one chain")
	}
	r.Section = f["section"]
	r.Before = splitList(f["before"])
	r.After = splitList(f["after"])
	for _, b := range r.Before {
		if b == r.Name {
			return nil, apperr.About(apperr.CodeConfig, name, "rule cannot appear in its own before list")
		}
	}
	for _, a := range r.After {
		if a == r.Name {
			return nil, apperr.About(apperr.CodeConfig, name, "rule cannot appear in its own after list")
		}
	}

	if v, ok := f["enabled"]; ok {
		r.Enabled = v != "false"
	}
	r.Condition = f["condition"]

	r.Source = splitList(f["source"])
	r.Destination = splitList(f["destination"])
	r.ExceptSource = splitList(f["except_source"])
	r.ExceptDestination = splitList(f["except_destination"])
	if len(r.Source) > 0 && len(r.ExceptSource) > 0 {
		return nil, apperr.About(apperr.CodeConfig, name, "source and except_source are mutually exclusive")
	}
	if len(r.Destination) > 0 && len(r.ExceptDestination) > 0 {
		return nil, apperr.About(apperr.CodeConfig, name, "destination and except_destination are mutually exclusive")
	}

	r.SourceInterfaces = splitList(f["source_interfaces"])
	r.DestinationInterfaces = splitList(f["destination_interfaces"])
	r.Interfaces = splitList(f["interfaces"])
	if len(r.Interfaces) > 0 && (len(r.SourceInterfaces) > 0 || len(r.DestinationInterfaces) > 0) {
		return nil, apperr.About(apperr.CodeConfig, name, "interfaces is mutually exclusive with source_interfaces/destination_interfaces")
	}

	r.SourcePorts = splitList(f["source_ports"])
	r.DestinationPorts = splitList(f["destination_ports"])

	for _, p := range splitList(f["protocols"]) {
		switch strings.ToLower(p) {
		case "icmpv6", "ipv6-icmp":
			r.Protocols = append(r.Protocols, "icmpv6")
			r.ForceIPv6 = true
		case "icmp":
			r.Protocols = append(r.Protocols, "icmp")
			r.ForceIPv4 = true
		default:
			r.Protocols = append(r.Protocols, p)
		}
	}

	r.Sets = splitList(f["set"])
	r.SetType = f["set_type"]
	r.SetData = splitList(f["set_data"])
	r.SetFromFile = splitList(f["set_from_file"])

	if v := f["state"]; v != "" {
		st, err := stategrammar.Parse(v)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeGrammar, name, "invalid state expression", err)
		}
		r.State = &st
	}

	if v := f["conntrack"]; v != "" {
		ct, err := conntrack.Parse(v)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeGrammar, name, "invalid conntrack expression", err)
		}
		r.Conntrack = append(r.Conntrack, ct)
	}

	knocksRaw := f["knocks"]
	recentRaw := f["recent"]
	if knocksRaw != "" && recentRaw != "" {
		return nil, apperr.About(apperr.CodeConfig, name, "knocks and recent are mutually exclusive")
	}
	if knocksRaw != "" {
		steps, err := knock.Parse(knocksRaw)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeGrammar, name, "invalid knock sequence", err)
		}
		dstPorts := make([]int, 0, len(r.DestinationPorts))
		for _, p := range r.DestinationPorts {
			if n, err := strconv.Atoi(p); err == nil {
				dstPorts = append(dstPorts, n)
			}
		}
		if err := knock.ValidateAgainstDestinationPorts(steps, dstPorts); err != nil {
			return nil, apperr.Wrap(apperr.CodeGrammar, name, "knock port collides with destination port", err)
		}
		r.Knocks = steps
		r.KnockClear = splitList(f["knock_clear"])
	}
	if recentRaw != "" {
		ops, err := parseRecentField(name, recentRaw)
		if err != nil {
			return nil, err
		}
		r.Recent = ops
	}

	if v := f["limit"]; v != "" {
		lim, err := parseLimit(name, v)
		if err != nil {
			return nil, err
		}
		r.Limit = lim
	}

	v, ok := f["action"]
	if !ok {
		return nil, apperr.About(apperr.CodeConfig, name, "rule must specify an action")
	}
	r.Action = model.Action{Verb: strings.ToUpper(v), Param: f["action_param"], Param2: f["action_param2"]}
	if r.Action.Verb == "REJECT" {
		v4, err := rejectalias.Resolve(f["action_param"], false)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, name, "invalid REJECT reason", err)
		}
		v6, err := rejectalias.Resolve(f["action_param"], true)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, name, "invalid REJECT reason", err)
		}
		r.Action.Param, r.Action.Param2 = v4, v6
		ipv6Only, ipv4Only := rejectalias.ForcesFamily(f["action_param"])
		r.ForceIPv4 = r.ForceIPv4 || ipv4Only
		r.ForceIPv6 = r.ForceIPv6 || ipv6Only
	}

	r.Log = f["log"]
	return r, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRecentField parses the standalone `recent` field: a comma-separated
// list of `-m recent` operations, independent of the `knocks` axis (the two
// are mutually exclusive, per spec.md §3). original_source's recent_parser
// class is not present in original_source/ (the m2osw/iplock distillation
// filtered it out), so this grammar is bespoke: it carries the same
// op/list-name/ttl/hitcount/reap/rttl/mask/destination/negate tuple spec.md
// §3's "Recent operation" defines, tokenized colon-separated in the style
// of internal/knock's "protocol:port/duration" steps.
//
//	entry ::= "!"? verb ":" list-name (":" option)*
//	verb   ::= "set" | "check" | "update" | "remove"
//	option ::= "reap" | "rttl" | "dst" | "seconds=" int | "hitcount=" int | "mask=" int
func parseRecentField(name, raw string) ([]model.RecentOp, error) {
	var ops []model.RecentOp
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		op, err := parseRecentEntry(name, entry)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil, apperr.About(apperr.CodeConfig, name, "recent must specify at least one operation")
	}
	return ops, nil
}

func parseRecentEntry(name, entry string) (model.RecentOp, error) {
	tokens := strings.Split(entry, ":")
	if len(tokens) < 2 {
		return model.RecentOp{}, apperr.About(apperr.CodeConfig, name, "recent entry must be verb:list-name[:option...]")
	}

	verb := tokens[0]
	negate := strings.HasPrefix(verb, "!")
	verb = strings.TrimPrefix(verb, "!")

	var op model.RecentOp
	switch strings.ToLower(verb) {
	case "set":
		op.Op = model.RecentSet
	case "check", "rcheck":
		op.Op = model.RecentCheck
	case "update":
		op.Op = model.RecentUpdate
	case "remove":
		op.Op = model.RecentRemove
	default:
		return model.RecentOp{}, apperr.About(apperr.CodeConfig, entry, "unknown recent verb, want set/check/update/remove")
	}
	op.Negate = negate
	op.ListName = tokens[1]
	if op.ListName == "" {
		return model.RecentOp{}, apperr.About(apperr.CodeConfig, entry, "recent entry is missing a list name")
	}

	for _, tok := range tokens[2:] {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			continue
		case tok == "reap":
			op.Reap = true
		case tok == "rttl":
			op.RTTL = true
		case tok == "dst":
			op.Destination = true
		case strings.HasPrefix(tok, "seconds="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "seconds="))
			if err != nil {
				return model.RecentOp{}, apperr.About(apperr.CodeConfig, tok, "recent seconds must be an integer")
			}
			op.Seconds = n
		case strings.HasPrefix(tok, "hitcount="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "hitcount="))
			if err != nil {
				return model.RecentOp{}, apperr.About(apperr.CodeConfig, tok, "recent hitcount must be an integer")
			}
			op.HitCount = n
		case strings.HasPrefix(tok, "mask="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "mask="))
			if err != nil {
				return model.RecentOp{}, apperr.About(apperr.CodeConfig, tok, "recent mask must be an integer")
			}
			op.MaskBits = n
		default:
			return model.RecentOp{}, apperr.About(apperr.CodeConfig, tok, "unknown recent option")
		}
	}
	return op, nil
}

// parseLimit parses the `limit` field into the rate or connection-limit
// form, per original_source/tools/ipload/rule.cpp's to_iptables_limits:
// comma-split into at most two values; a "/" in the first value means a
// rate (number/unit[,burst]), otherwise a connection limit
// ([<|<=|>]count[,[->|<-]mask]).
func parseLimit(name, raw string) (*model.Limit, error) {
	parts := strings.SplitN(raw, ",", 3)
	if len(parts) > 2 {
		return nil, apperr.About(apperr.CodeConfig, name, "limit accepts at most two comma-separated values")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if idx := strings.Index(parts[0], "/"); idx >= 0 {
		rate, err := strconv.Atoi(strings.TrimSpace(parts[0][:idx]))
		if err != nil {
			return nil, apperr.About(apperr.CodeConfig, name, "limit rate must be an integer followed by '/unit'")
		}
		unit := strings.TrimSpace(parts[0][idx+1:])
		switch unit {
		case "second", "minute", "hour", "day":
		default:
			return nil, apperr.About(apperr.CodeConfig, name, "limit rate unit must be one of second/minute/hour/day")
		}
		l := &model.Limit{HasRate: true, Rate: rate, RateUnit: unit}
		if len(parts) == 2 && parts[1] != "" {
			burst, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, apperr.About(apperr.CodeConfig, name, "limit burst must be an integer")
			}
			l.Burst = burst
		}
		return l, nil
	}

	s := parts[0]
	upto := true
	switch {
	case strings.HasPrefix(s, "<="):
		s = s[2:]
	case strings.HasPrefix(s, "<"):
		s = s[1:]
	case strings.HasPrefix(s, ">"):
		upto = false
		s = s[1:]
	}
	count, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || count <= 0 {
		return nil, apperr.About(apperr.CodeConfig, name, "limit connection count must be a positive integer, optionally preceded by '<', '<=', or '>'")
	}
	l := &model.Limit{HasConnLimit: true, ConnLimitUpto: upto, ConnLimitN: count}

	if len(parts) == 2 && parts[1] != "" {
		m := parts[1]
		dst := false
		switch {
		case strings.HasPrefix(m, "->"):
			m = m[2:]
		case strings.HasPrefix(m, "-"):
			m = m[1:]
		case strings.HasPrefix(m, "<-"):
			dst = true
			m = m[2:]
		case strings.HasPrefix(m, "<"):
			dst = true
			m = m[1:]
		default:
			return nil, apperr.About(apperr.CodeConfig, name, "limit mask must be preceded by '-', '->', '<', or '<-'")
		}
		mask, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil || mask < 0 || mask > 128 {
			return nil, apperr.About(apperr.CodeConfig, name, "limit mask must be an integer between 0 and 128")
		}
		l.ConnLimitMask = mask
		l.ConnLimitDst = dst
	}
	return l, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
