// Package addrparse implements the shared IPv4/IPv6/CIDR/range/port-list
// parser described in spec.md §4.2. It backs every rule field that accepts
// a list of addresses or ports (source, destination, source_ports,
// destination_ports, set_data, set_from_file, and the ip-list directories).
package addrparse

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
)

// Mode selects whether a Parse call expects addresses or bare port numbers.
type Mode int

const (
	ModeAddress Mode = iota
	ModePort
)

// Options are the feature flags spec §4.2 names. Each feature can be
// enabled independently so the same parser serves every context (a rule's
// `source` field, a `set_from_file` list, a port list, ...).
type Options struct {
	Mode Mode

	AllowMask             bool
	AllowPort             bool
	AllowCommaSeparated   bool
	AllowSpaceSeparated   bool
	AllowNewlineSeparated bool
	AllowHashComments     bool
	AllowSemicolonComments bool
	AllowAddressRange     bool
}

// DefaultAddressOptions matches how rule address fields (source,
// destination, except_source, ...) are parsed.
func DefaultAddressOptions() Options {
	return Options{
		Mode:                  ModeAddress,
		AllowMask:             true,
		AllowCommaSeparated:   true,
		AllowAddressRange:     true,
	}
}

// DefaultFileOptions matches how ip-list files and set_from_file are
// parsed: one entry per line, with comments and blank lines skipped.
func DefaultFileOptions() Options {
	return Options{
		Mode:                   ModeAddress,
		AllowMask:              true,
		AllowAddressRange:      true,
		AllowNewlineSeparated:  true,
		AllowHashComments:      true,
		AllowSemicolonComments: true,
	}
}

// DefaultPortOptions matches how source_ports/destination_ports are parsed.
func DefaultPortOptions() Options {
	return Options{
		Mode:                ModePort,
		AllowPort:           true,
		AllowCommaSeparated: true,
		AllowAddressRange:   true, // port ranges use the same "a-b" syntax
	}
}

// Entry is one parsed list element: either a single address/port or an
// inclusive [From, To] range. CIDR entries are represented with IsCIDR set
// and Bits holding the prefix length; From/To still hold the network's
// first/last address so range-based reasoning (overlap, coalescing,
// membership) never needs to special-case CIDR vs range.
type Entry struct {
	// Address mode fields.
	From, To netip.Addr
	IsCIDR   bool
	Bits     int

	// Port mode fields.
	PortFrom, PortTo int
}

// String renders the entry the way it should appear in an emitted rule
// (CIDR notation, a bare address, an inclusive range, or a port/port range).
func (e Entry) String() string {
	if e.PortFrom != 0 || e.PortTo != 0 {
		if e.PortTo != 0 && e.PortTo != e.PortFrom {
			return fmt.Sprintf("%d:%d", e.PortFrom, e.PortTo)
		}
		return strconv.Itoa(e.PortFrom)
	}
	if e.IsCIDR {
		return fmt.Sprintf("%s/%d", e.From.String(), e.Bits)
	}
	if e.From == e.To {
		return e.From.String()
	}
	return fmt.Sprintf("%s-%s", e.From.String(), e.To.String())
}

// IsIPv6 reports the address family of an address-mode entry.
func (e Entry) IsIPv6() bool {
	return e.From.Is6() && !e.From.Is4In6()
}

// Contains reports whether addr falls within any entry's [From, To] range,
// the Go equivalent of libaddr's address_match_ranges used by iplock's
// allowlist check (original_source/tools/iplock/block_or_unblock.cpp).
func Contains(entries []Entry, addr netip.Addr) bool {
	for _, e := range entries {
		if addr.Compare(e.From) >= 0 && addr.Compare(e.To) <= 0 {
			return true
		}
	}
	return false
}

// Parse splits input according to the enabled separators/comments and
// parses each remaining token as either an address/CIDR/range or a port/
// port range, per opts.Mode.
func Parse(input string, opts Options) ([]Entry, error) {
	tokens, err := tokenize(input, opts)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		var e Entry
		var err error
		if opts.Mode == ModePort {
			e, err = parsePortToken(tok, opts)
		} else {
			e, err = parseAddressToken(tok, opts)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func tokenize(input string, opts Options) ([]string, error) {
	lines := []string{input}
	if opts.AllowNewlineSeparated {
		lines = strings.Split(input, "\n")
	}

	var tokens []string
	for _, line := range lines {
		if opts.AllowHashComments {
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
		}
		if opts.AllowSemicolonComments {
			if i := strings.IndexByte(line, ';'); i >= 0 {
				line = line[:i]
			}
		}
		parts := []string{line}
		if opts.AllowCommaSeparated {
			parts = splitAny(parts, ",")
		}
		if opts.AllowSpaceSeparated {
			parts = splitAny(parts, " \t")
		}
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				tokens = append(tokens, p)
			}
		}
	}
	return tokens, nil
}

func splitAny(parts []string, seps string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, strings.FieldsFunc(p, func(r rune) bool {
			return strings.ContainsRune(seps, r)
		})...)
	}
	return out
}

// StripScheme removes an optional "scheme://" prefix and returns the
// scheme name (empty if none) and the remainder of the token.
func StripScheme(token string) (scheme, rest string) {
	if i := strings.Index(token, "://"); i >= 0 {
		return token[:i], token[i+3:]
	}
	return "", token
}

func parseAddressToken(tok string, opts Options) (Entry, error) {
	_, tok = StripScheme(tok)

	if opts.AllowAddressRange && strings.Contains(tok, "-") && !strings.HasPrefix(tok, "[") {
		// Only treat as a range if both sides parse as bare addresses;
		// otherwise this dash is part of something else (shouldn't occur
		// in address tokens but be defensive).
		parts := strings.SplitN(tok, "-", 2)
		if len(parts) == 2 {
			from, err1 := parseAddr(parts[0])
			to, err2 := parseAddr(parts[1])
			if err1 == nil && err2 == nil {
				return Entry{From: from, To: to}, nil
			}
		}
	}

	if opts.AllowMask && strings.Contains(tok, "/") {
		prefix, err := netip.ParsePrefix(tok)
		if err != nil {
			return Entry{}, apperr.Wrap(apperr.CodeGrammar, tok, "invalid CIDR address", err)
		}
		network := prefix.Masked()
		first := network.Addr()
		last := lastAddr(network)
		return Entry{From: first, To: last, IsCIDR: true, Bits: prefix.Bits()}, nil
	}

	addr, err := parseAddr(tok)
	if err != nil {
		return Entry{}, apperr.Wrap(apperr.CodeGrammar, tok, "invalid IP address", err)
	}
	bits := 32
	if addr.Is6() && !addr.Is4In6() {
		bits = 128
	}
	return Entry{From: addr, To: addr, IsCIDR: true, Bits: bits}, nil
}

func parseAddr(s string) (netip.Addr, error) {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return netip.ParseAddr(s)
}

func lastAddr(p netip.Prefix) netip.Addr {
	addr := p.Addr()
	bytes := addr.AsSlice()
	ones := p.Bits()
	for i := range bytes {
		bitStart := i * 8
		if bitStart+8 <= ones {
			continue
		}
		if bitStart >= ones {
			bytes[i] = 0xff
			continue
		}
		keep := ones - bitStart
		mask := byte(0xff) >> keep
		bytes[i] |= mask
	}
	last, _ := netip.AddrFromSlice(bytes)
	if addr.Is4() {
		return last
	}
	return last
}

func parsePortToken(tok string, opts Options) (Entry, error) {
	if strings.Contains(tok, "-") {
		parts := strings.SplitN(tok, "-", 2)
		from, err1 := strconv.Atoi(parts[0])
		to, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return Entry{}, apperr.About(apperr.CodeGrammar, tok, "invalid port range")
		}
		if from < 0 || from > 65535 || to < 0 || to > 65535 || to < from {
			return Entry{}, apperr.About(apperr.CodeGrammar, tok, "port range out of bounds")
		}
		return Entry{PortFrom: from, PortTo: to}, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n > 65535 {
		return Entry{}, apperr.About(apperr.CodeGrammar, tok, "invalid port number")
	}
	return Entry{PortFrom: n, PortTo: n}, nil
}

// Optimize coalesces overlapping or adjacent address entries, used when a
// loaded ip-list file populates an ipset (spec §4.2: "the result list is
// optimized"). Port entries are returned unchanged.
func Optimize(entries []Entry) []Entry {
	var addrs, others []Entry
	for _, e := range entries {
		if e.PortFrom != 0 || e.PortTo != 0 {
			others = append(others, e)
			continue
		}
		addrs = append(addrs, e)
	}
	if len(addrs) == 0 {
		return others
	}

	v4 := make([]Entry, 0, len(addrs))
	v6 := make([]Entry, 0, len(addrs))
	for _, e := range addrs {
		if e.IsIPv6() {
			v6 = append(v6, e)
		} else {
			v4 = append(v4, e)
		}
	}

	merged := append(coalesce(v4), coalesce(v6)...)
	return append(merged, others...)
}

func coalesce(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].From.Less(entries[j].From)
	})

	out := []Entry{entries[0]}
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if addrLessOrEqual(e.From, nextAddr(last.To)) {
			if addrLessOrEqual(last.To, e.To) {
				last.To = e.To
				last.IsCIDR = false
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

func addrLessOrEqual(a, b netip.Addr) bool {
	return a == b || a.Less(b)
}

func nextAddr(a netip.Addr) netip.Addr {
	bytes := a.AsSlice()
	for i := len(bytes) - 1; i >= 0; i-- {
		if bytes[i] < 0xff {
			bytes[i]++
			break
		}
		bytes[i] = 0
	}
	next, _ := netip.AddrFromSlice(bytes)
	return next
}
