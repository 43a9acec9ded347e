// Package stategrammar implements the TCP flag-mask/connection-state
// grammar described in spec.md §4.3:
//
//	start      ::= compare ("," compare)*
//	compare    ::= flag_list ("=" flag_list)?
//	flag_list  ::= flag_name ("|" flag_name)*
//	flag_name  ::= atom | "!" flag_name | "(" flag_list ")"
//	atom       ::= "syn"|"ack"|"fin"|"rst"|"urg"|"psh"
//	             | "all"|"none"
//	             | "new"|"old"
//	             | "established"|"related"|"invalid"
//	             | "any"|"timestamp-request"|"timestamp-reply"
//	             | "tcpmss" integer ("-" integer)?
//
// The "old" atom's exact semantics were resolved against
// original_source/tools/ipload/state_parser.cpp rather than guessed: it
// sets the same mask/compare pair as "new" (SYN|RST|ACK|FIN, compare SYN)
// and additionally forces tcp-negate to true directly. A leading "!" then
// toggles tcp-negate again through the ordinary negation path.
package stategrammar

import (
	"strconv"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
)

// Flag is a single TCP header flag bit.
type Flag uint8

const (
	FlagSyn Flag = 1 << iota
	FlagAck
	FlagFin
	FlagRst
	FlagUrg
	FlagPsh
)

// FlagAll is the ALL preset: every flag bit this grammar knows about.
const FlagAll = FlagSyn | FlagAck | FlagFin | FlagRst | FlagUrg | FlagPsh

var flagByName = map[string]Flag{
	"syn": FlagSyn,
	"ack": FlagAck,
	"fin": FlagFin,
	"rst": FlagRst,
	"urg": FlagUrg,
	"psh": FlagPsh,
}

// Kind distinguishes the families of atom the grammar accepts within a
// single compare: TCP flags (plain flags and the mutually exclusive
// "special" presets, both KindFlags), and the non-flag connection-state,
// ICMP and tcpmss atoms that bypass the mask/compare model entirely.
type Kind int

const (
	KindFlags Kind = iota
	KindConnState
	KindICMP
	KindTCPMSS
)

// Compare is one comma-separated element of the grammar: a mask/compare
// pair for flag-based atoms, or a bare non-flag token.
type Compare struct {
	Kind Kind

	Mask    Flag
	Compare Flag
	Negate  bool // tcp-negate, per the "old"/"!" semantics above

	// Non-flag atoms (connection-state, ICMP, tcpmss) carry their literal
	// name/arguments instead of a mask/compare pair.
	Name     string
	MSSFrom  int
	MSSTo    int
}

// Result is the parsed state expression: a comma-separated, deduplicated
// list of compares.
type Result struct {
	Compares []Compare
}

var connStateAtoms = map[string]bool{"established": true, "related": true, "invalid": true}
var icmpAtoms = map[string]bool{"any": true, "timestamp-request": true, "timestamp-reply": true}

// Parse parses a full state expression (the comma-separated `start`
// production).
func Parse(input string) (Result, error) {
	var res Result
	seen := make(map[string]bool)

	for _, part := range splitTopLevel(input, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseCompare(part)
		if err != nil {
			return Result{}, err
		}
		key := compareKey(c)
		if seen[key] {
			continue // duplicate compare sets are deduplicated, not errors
		}
		seen[key] = true
		res.Compares = append(res.Compares, c)
	}
	return res, nil
}

func compareKey(c Compare) string {
	return strconv.Itoa(int(c.Kind)) + "/" + strconv.Itoa(int(c.Mask)) + "/" +
		strconv.Itoa(int(c.Compare)) + "/" + c.Name
}

func parseCompare(s string) (Compare, error) {
	sides := splitTopLevel(s, '=')
	switch len(sides) {
	case 1:
		return buildCompare(strings.TrimSpace(sides[0]), "")
	case 2:
		return buildCompare(strings.TrimSpace(sides[0]), strings.TrimSpace(sides[1]))
	default:
		return Compare{}, apperr.About(apperr.CodeGrammar, s, "compare has more than one '='")
	}
}

// buildCompare handles both forms: `compareSide = ""` means no "=" was
// present (the parsed list is the compare and the mask defaults to ALL);
// otherwise maskSide is the mask list and compareSide is the compare list.
func buildCompare(maskSide, compareSide string) (Compare, error) {
	hasEquals := compareSide != "" || strings.Contains(maskSide, "=")
	_ = hasEquals

	left, err := parseFlagList(maskSide)
	if err != nil {
		return Compare{}, err
	}

	if left.kind != KindFlags {
		if compareSide != "" {
			return Compare{}, apperr.About(apperr.CodeGrammar, maskSide, "special/connection-state atom cannot be combined with a compare side")
		}
		return Compare{Kind: left.kind, Name: left.name, MSSFrom: left.mssFrom, MSSTo: left.mssTo}, nil
	}

	if compareSide == "" {
		if left.hasPreset {
			return Compare{Kind: KindFlags, Mask: left.presetMask, Compare: left.presetCompare, Negate: left.negate}, nil
		}
		return Compare{Kind: KindFlags, Mask: FlagAll, Compare: left.flags, Negate: left.negate}, nil
	}

	right, err := parseFlagList(compareSide)
	if err != nil {
		return Compare{}, err
	}
	if right.kind != KindFlags {
		return Compare{}, apperr.About(apperr.CodeGrammar, compareSide, "compare side must be a flag list")
	}

	c := Compare{Kind: KindFlags, Mask: left.flags, Compare: right.flags, Negate: left.negate || right.negate}
	if c.Compare&^c.Mask != 0 {
		return Compare{}, apperr.About(apperr.CodeGrammar, maskSide+"="+compareSide, "compare set is not a subset of mask")
	}
	return c, nil
}

type flagListResult struct {
	kind    Kind
	flags   Flag
	negate  bool
	name    string
	mssFrom int
	mssTo   int

	// hasPreset is set by the "new"/"old" atoms: unlike a plain flag list,
	// their mask/compare pair (SYN|RST|ACK|FIN / SYN) is fixed and must not
	// collapse to Mask=FlagAll when the atom stands alone with no "=" side.
	hasPreset     bool
	presetMask    Flag
	presetCompare Flag
}

func parseFlagList(s string) (flagListResult, error) {
	atoms := splitTopLevel(s, '|')
	var result flagListResult
	result.kind = KindFlags

	sawStandalone := false
	sawSpecial := false

	for _, a := range atoms {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		negate := false
		for strings.HasPrefix(a, "!") {
			negate = !negate
			a = strings.TrimSpace(a[1:])
		}
		if strings.HasPrefix(a, "(") && strings.HasSuffix(a, ")") {
			inner, err := parseFlagList(a[1 : len(a)-1])
			if err != nil {
				return flagListResult{}, err
			}
			if inner.kind != KindFlags {
				return flagListResult{}, apperr.About(apperr.CodeGrammar, a, "parenthesized group must contain TCP flag atoms")
			}
			result.flags |= inner.flags
			if negate {
				result.negate = !result.negate
			}
			if inner.negate {
				result.negate = !result.negate
			}
			sawStandalone = true
			continue
		}

		lower := strings.ToLower(a)
		switch {
		case flagByName[lower] != 0:
			result.flags |= flagByName[lower]
			if negate {
				result.negate = !result.negate
			}
			sawStandalone = true
		case lower == "all":
			result.flags |= FlagAll
			if negate {
				result.negate = !result.negate
			}
			sawSpecial = true
		case lower == "none":
			if negate {
				result.negate = !result.negate
			}
			sawSpecial = true
		case lower == "new":
			result.flags |= FlagSyn | FlagRst | FlagAck | FlagFin
			result.hasPreset = true
			result.presetMask = FlagSyn | FlagRst | FlagAck | FlagFin
			result.presetCompare = FlagSyn
			sawSpecial = true
			if negate {
				result.negate = !result.negate
			}
		case lower == "old":
			result.flags |= FlagSyn | FlagRst | FlagAck | FlagFin
			result.hasPreset = true
			result.presetMask = FlagSyn | FlagRst | FlagAck | FlagFin
			result.presetCompare = FlagSyn
			result.negate = true
			sawSpecial = true
			if negate {
				result.negate = !result.negate
			}
		case connStateAtoms[lower]:
			if len(atoms) != 1 {
				return flagListResult{}, apperr.About(apperr.CodeGrammar, s, "connection-state atom cannot be combined with other atoms")
			}
			return flagListResult{kind: KindConnState, name: lower}, nil
		case icmpAtoms[lower]:
			if len(atoms) != 1 {
				return flagListResult{}, apperr.About(apperr.CodeGrammar, s, "ICMP atom cannot be combined with other atoms")
			}
			return flagListResult{kind: KindICMP, name: lower}, nil
		case strings.HasPrefix(lower, "tcpmss"):
			if len(atoms) != 1 {
				return flagListResult{}, apperr.About(apperr.CodeGrammar, s, "tcpmss cannot be combined with other atoms")
			}
			from, to, err := parseTCPMSS(a)
			if err != nil {
				return flagListResult{}, err
			}
			return flagListResult{kind: KindTCPMSS, name: "tcpmss", mssFrom: from, mssTo: to}, nil
		default:
			return flagListResult{}, apperr.About(apperr.CodeGrammar, a, "unknown state atom")
		}
	}

	if sawStandalone && sawSpecial {
		return flagListResult{}, apperr.About(apperr.CodeGrammar, s, "standalone TCP flag atoms cannot combine with special atoms (all/none/new/old) in one compare")
	}

	return result, nil
}

func parseTCPMSS(s string) (int, int, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(s, "tcpmss"))
	parts := strings.SplitN(rest, "-", 2)
	from, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, apperr.About(apperr.CodeGrammar, s, "invalid tcpmss value")
	}
	if len(parts) == 1 {
		return from, from, nil
	}
	to, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, apperr.About(apperr.CodeGrammar, s, "invalid tcpmss range")
	}
	return from, to, nil
}

// splitTopLevel splits s on sep, ignoring occurrences nested inside
// parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}
