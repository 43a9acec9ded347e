// Package conntrack implements the `-m conntrack` mini-language described
// in spec.md §4.4:
//
//	start     ::= expr+
//	expr      ::= ("!" ("(" expr+ ")" | atom)) | atom
//	atom      ::= state | status | direction | protocol | endpoint | ports | expire
//	direction ::= "*<" | "*>" | "|<" | "|>"
//	endpoint  ::= direction address["/"mask]
//	ports     ::= direction integer (":" integer)?
//	expire    ::= integer (":" integer)?
//	state     ::= "invalid"|"new"|"established"|"related"|"untracked"|"snat"|"dnat"
//	status    ::= "none"|"expected"|"seen_reply"|"assured"|"confirmed"
package conntrack

import (
	"strconv"
	"strings"

	"github.com/m2osw/ipload/internal/addrparse"
	"github.com/m2osw/ipload/internal/apperr"
)

// Direction is one of the four conntrack tuple directions.
type Direction string

const (
	DirOrigSrc  Direction = "*<"
	DirOrigDst  Direction = "*>"
	DirReplSrc  Direction = "|<"
	DirReplDst  Direction = "|>"
)

var directionTokens = []Direction{DirOrigSrc, DirOrigDst, DirReplSrc, DirReplDst}

var stateAtoms = map[string]bool{
	"invalid": true, "new": true, "established": true, "related": true,
	"untracked": true, "snat": true, "dnat": true,
}

var statusAtoms = map[string]bool{
	"none": true, "expected": true, "seen_reply": true, "assured": true, "confirmed": true,
}

// Endpoint is an address bound to a conntrack direction.
type Endpoint struct {
	Direction Direction
	Address   addrparse.Entry
	Negate    bool
}

// PortRange is a port range bound to a conntrack direction.
type PortRange struct {
	Direction Direction
	From, To  int
	Negate    bool
}

// Atom is a single state/status/protocol token.
type Atom struct {
	Kind   string // "state", "status", or "protocol"
	Value  string
	Negate bool
}

// Expire is the optional expiry-range atom; at most one may appear.
type Expire struct {
	From, To int
	Negate   bool
}

// Result is the fully parsed conntrack clause.
type Result struct {
	States    []Atom
	Statuses  []Atom
	Protocols []Atom
	Endpoints []Endpoint
	Ports     []PortRange
	Expire    *Expire
}

// Parse tokenizes and parses a full conntrack expression.
func Parse(input string) (Result, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return Result{}, err
	}
	var res Result
	i := 0
	for i < len(tokens) {
		consumed, err := parseExprInto(&res, tokens, i, false)
		if err != nil {
			return Result{}, err
		}
		i = consumed
	}
	if err := validate(res); err != nil {
		return Result{}, err
	}
	return res, nil
}

type token struct {
	negate bool
	group  []token // non-nil for a parenthesized group
	text   string  // raw atom text when group is nil
}

func tokenize(input string) ([]token, error) {
	// Parentheses may touch their contents ("!(new established)"), so each
	// becomes a field of its own; a "!" stays attached to its "(".
	input = strings.NewReplacer("(", "( ", ")", " )").Replace(input)
	fields := strings.Fields(input)
	return tokenizeFields(fields)
}

func tokenizeFields(fields []string) ([]token, error) {
	var out []token
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		negate := false
		for strings.HasPrefix(f, "!") {
			negate = !negate
			f = strings.TrimPrefix(f, "!")
		}
		// A direction token may be separated from its address or ports by a space.
		for _, d := range directionTokens {
			if f == string(d) && i+1 < len(fields) {
				f += fields[i+1]
				i++
				break
			}
		}
		if f == "(" {
			depth := 1
			var inner []string
			i++
			for ; i < len(fields) && depth > 0; i++ {
				if fields[i] == "(" {
					depth++
				} else if fields[i] == ")" {
					depth--
					if depth == 0 {
						break
					}
				}
				inner = append(inner, fields[i])
			}
			if depth != 0 {
				return nil, apperr.New(apperr.CodeGrammar, "unbalanced parentheses in conntrack expression")
			}
			grouped, err := tokenizeFields(inner)
			if err != nil {
				return nil, err
			}
			out = append(out, token{negate: negate, group: grouped})
			continue
		}
		if f == "" {
			continue
		}
		out = append(out, token{negate: negate, text: f})
	}
	return out, nil
}

func parseExprInto(res *Result, tokens []token, i int, forceNegate bool) (int, error) {
	t := tokens[i]
	negate := t.negate
	if forceNegate {
		negate = !negate
	}

	if t.group != nil {
		for _, gt := range t.group {
			child := gt
			child.negate = gt.negate
			if negate {
				child.negate = !child.negate
			}
			if err := parseAtom(res, child); err != nil {
				return 0, err
			}
		}
		return i + 1, nil
	}

	if err := parseAtom(res, token{negate: negate, text: t.text}); err != nil {
		return 0, err
	}
	return i + 1, nil
}

func parseAtom(res *Result, t token) error {
	s := t.text

	for _, d := range directionTokens {
		if strings.HasPrefix(s, string(d)) {
			rest := strings.TrimPrefix(s, string(d))
			return parseDirectional(res, d, rest, t.negate)
		}
	}

	lower := strings.ToLower(s)
	switch {
	case stateAtoms[lower]:
		res.States = append(res.States, Atom{Kind: "state", Value: lower, Negate: t.negate})
		return nil
	case statusAtoms[lower]:
		res.Statuses = append(res.Statuses, Atom{Kind: "status", Value: lower, Negate: t.negate})
		return nil
	}

	if isExpire(s) {
		if res.Expire != nil {
			return apperr.About(apperr.CodeGrammar, s, "expire may appear at most once")
		}
		from, to, err := parseRange(s)
		if err != nil {
			return err
		}
		res.Expire = &Expire{From: from, To: to, Negate: t.negate}
		return nil
	}

	// Anything else is treated as a protocol name (tcp, udp, icmp, ...).
	res.Protocols = append(res.Protocols, Atom{Kind: "protocol", Value: lower, Negate: t.negate})
	return nil
}

func parseDirectional(res *Result, d Direction, rest string, negate bool) error {
	if rest == "" {
		return apperr.About(apperr.CodeGrammar, string(d), "direction token requires an address or port range")
	}
	// Digits (with an optional ":" range) are ports; anything else, including
	// an address that starts with a digit, is an endpoint address.
	if rest[0] >= '0' && rest[0] <= '9' {
		if from, to, err := parseRange(rest); err == nil {
			res.Ports = append(res.Ports, PortRange{Direction: d, From: from, To: to, Negate: negate})
			return nil
		}
	}
	entries, err := addrparse.Parse(rest, addrparse.DefaultAddressOptions())
	if err != nil {
		return apperr.Wrap(apperr.CodeGrammar, rest, "invalid conntrack endpoint address", err)
	}
	if len(entries) != 1 {
		return apperr.About(apperr.CodeGrammar, rest, "conntrack endpoint accepts exactly one address")
	}
	res.Endpoints = append(res.Endpoints, Endpoint{Direction: d, Address: entries[0], Negate: negate})
	return nil
}

func isExpire(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= '0' && s[0] <= '9'
}

func parseRange(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	from, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, apperr.About(apperr.CodeGrammar, s, "invalid integer")
	}
	if len(parts) == 1 {
		return from, from, nil
	}
	to, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, apperr.About(apperr.CodeGrammar, s, "invalid integer range")
	}
	return from, to, nil
}

func validate(res Result) error {
	perDirAddr := map[Direction]int{}
	perDirPort := map[Direction]int{}
	v4, v6 := false, false
	for _, e := range res.Endpoints {
		perDirAddr[e.Direction]++
		if perDirAddr[e.Direction] > 1 {
			return apperr.About(apperr.CodeGrammar, string(e.Direction), "direction permits at most one address")
		}
		if e.Address.IsIPv6() {
			v6 = true
		} else {
			v4 = true
		}
	}
	if v4 && v6 {
		return apperr.New(apperr.CodeGrammar, "mixing IPv4 and IPv6 endpoints in one conntrack clause is an error")
	}
	for _, p := range res.Ports {
		perDirPort[p.Direction]++
		if perDirPort[p.Direction] > 1 {
			return apperr.About(apperr.CodeGrammar, string(p.Direction), "direction permits at most one port range")
		}
	}
	return nil
}
