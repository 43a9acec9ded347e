// Package apply drives the iplock fast path: turning a scheme's `batch`/
// `unblock` line templates and a list of IP addresses into lines piped
// through a single `ipset restore -!` invocation, grounded on
// original_source/tools/iplock/block_or_unblock.cpp's handle_ips/add_ips
// (which builds one `f_set_rules` blob per invocation and feeds it to
// exactly one `ipset restore` subprocess, never one process per IP).
package apply

import (
	"context"
	"net/netip"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/procrun"
	"github.com/m2osw/ipload/internal/scheme"
)

// Applier executes one scheme's block/unblock templates against a batch
// of IP addresses.
type Applier struct {
	log *logger.Logger
}

// New creates an Applier.
func New(log *logger.Logger) *Applier {
	return &Applier{log: log}
}

// Block adds every IP in ips to the scheme's set(s) using its `batch`
// line template.
func (a *Applier) Block(ctx context.Context, sc *scheme.Scheme, ips []string) error {
	return a.batch(ctx, sc, ips, sc.Batch, "block")
}

// Unblock removes every IP in ips from the scheme's set(s) using its
// `unblock` line template.
func (a *Applier) Unblock(ctx context.Context, sc *scheme.Scheme, ips []string) error {
	return a.batch(ctx, sc, ips, sc.Unblock, "unblock")
}

func (a *Applier) batch(ctx context.Context, sc *scheme.Scheme, ips []string, tmpl, verb string) error {
	if tmpl == "" {
		return apperr.About(apperr.CodeConfig, sc.Name, "scheme has no "+verb+" template")
	}
	if len(ips) == 0 {
		return nil
	}

	pipe, err := procrun.Start(ctx, "ipset", "restore", "-!")
	if err != nil {
		return err
	}
	for _, ip := range ips {
		line, err := renderLine(tmpl, sc.Name, ip)
		if err != nil {
			pipe.Close()
			return err
		}
		if err := pipe.WriteLine(line); err != nil {
			pipe.Close()
			return err
		}
	}
	if err := pipe.Close(); err != nil {
		return err
	}
	a.log.Info("apply: "+verb+" batch applied", "scheme", sc.Name, "count", len(ips))
	return nil
}

// renderLine substitutes [set] with "<scheme>_ipv4" or "<scheme>_ipv6"
// (matching the family of ip) and [ip] with the address itself.
func renderLine(tmpl, schemeName, ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		// allow a trailing CIDR mask, same leniency as addrparse's allowlist parsing
		prefix, perr := netip.ParsePrefix(ip)
		if perr != nil {
			return "", apperr.Wrap(apperr.CodeConfig, ip, "invalid IP address", err)
		}
		addr = prefix.Addr()
	}

	family := "_ipv4"
	if addr.Is6() && !addr.Is4In6() {
		family = "_ipv6"
	}
	set := schemeName + family

	line := strings.ReplaceAll(tmpl, "[set]", set)
	line = strings.ReplaceAll(line, "[ip]", ip)
	return line, nil
}
