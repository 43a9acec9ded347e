// Package rejectalias reproduces, verbatim, the REJECT reason alias table
// from original_source/tools/ipload/rule.cpp (the `reject_option` array).
// The mapping is preserved exactly as observed in the original source per
// SPEC_FULL.md's resolution of the "REJECT reason aliases" open question;
// it is not reconstructed from first principles.
package rejectalias

import "github.com/m2osw/ipload/internal/apperr"

// Option is one entry of the alias table: an alias name mapped to the
// iptables --reject-with value to use on an IPv4-only and an IPv6-only
// table respectively.
type Option struct {
	Alias    string
	IPv4Name string
	IPv6Name string
}

// DefaultAlias is the reject reason used when none is specified
// ("port-unreachable" in the original source).
const DefaultAlias = "port-unreachable"

// table reproduces reject_option[] from rule.cpp lines 85-184, in order.
var table = []Option{
	{"icmp6-no-route", "", "icmp6-no-route"},
	{"no-route", "", "no-route"},

	{"icmp6-adm-prohibited", "", "icmp6-adm-prohibited"},
	{"icmp-adm-prohibited", "icmp-admin-prohibited", ""},
	{"icmp-admin-prohibited", "icmp-admin-prohibited", ""},
	{"adm-prohibited", "icmp-admin-prohibited", "adm-prohibited"},

	{"icmp6-addr-unreachable", "", "icmp6-addr-unreachable"},
	{"addr-unreach", "", "icmp6-addr-unreachable"},
	{"addr-unreachable", "", "icmp6-addr-unreachable"},

	{"icmp6-port-unreachable", "", "icmp6-port-unreachable"},
	{"icmp-port-unreachable", "icmp-port-unreachable", ""},
	{"port-unreachable", "icmp-port-unreachable", "icmp6-port-unreachable"},

	{"icmp-net-unreachable", "icmp-net-unreachable", ""},
	{"net-unreachable", "icmp-net-unreachable", ""},

	{"icmp-net-prohibited", "icmp-net-prohibited", ""},
	{"net-prohibited", "icmp-net-prohibited", ""},

	{"icmp-host-unreachable", "icmp-host-unreachable", ""},
	{"host-unreachable", "icmp-host-unreachable", ""},
	{"host-unreach", "icmp-host-unreachable", ""},

	{"icmp-proto-unreachable", "icmp-proto-unreachable", ""},
	{"proto-unreachable", "icmp-proto-unreachable", ""},
	{"proto-unreach", "icmp-proto-unreachable", ""},

	{"tcp-reset", "tcp-reset", "tcp-reset"},
	{"icmp-tcp-reset", "icmp-tcp-reset", ""},
	{"icmp6-tcp-reset", "", "tcp-reset"},
}

var byAlias = func() map[string]Option {
	m := make(map[string]Option, len(table))
	for _, o := range table {
		m[o.Alias] = o
	}
	return m
}()

// Resolve looks up an alias and returns the --reject-with value for the
// requested family. A family-specific name of "" means this alias forces
// the *other* family and cannot be used on this one.
func Resolve(alias string, ipv6 bool) (string, error) {
	if alias == "" {
		alias = DefaultAlias
	}
	opt, ok := byAlias[alias]
	if !ok {
		return "", apperr.About(apperr.CodeGrammar, alias, "unknown REJECT reason alias")
	}
	if ipv6 {
		if opt.IPv6Name == "" {
			return "", apperr.About(apperr.CodeGrammar, alias, "REJECT reason alias is not valid on an IPv6 table")
		}
		return opt.IPv6Name, nil
	}
	if opt.IPv4Name == "" {
		return "", apperr.About(apperr.CodeGrammar, alias, "REJECT reason alias is not valid on an IPv4 table")
	}
	return opt.IPv4Name, nil
}

// ForcesFamily reports whether an alias is only valid for one address
// family, and if so which.
func ForcesFamily(alias string) (ipv6Only, ipv4Only bool) {
	opt, ok := byAlias[alias]
	if !ok {
		return false, false
	}
	return opt.IPv4Name == "", opt.IPv6Name == ""
}
