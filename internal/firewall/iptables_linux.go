//go:build linux

// Package firewall applies a compiled restore script to the kernel and
// drives the iplock fast path for single-IP blocks. It replaces the
// teacher's per-rule go-iptables calls (AddRule/DeleteRule against one
// rule at a time) with the bulk iptables-restore/ip6tables-restore model
// ipload's emitter produces, and the ipset-restore model iplock's
// block_or_unblock uses for one-off blocks — both piped through
// internal/procrun rather than shelling out once per rule.
package firewall

import (
	"context"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/emitter"
	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/procrun"
)

// Backend applies compiled iptables-restore scripts to the running
// kernel via the real iptables-restore/ip6tables-restore binaries.
type Backend struct {
	log *logger.Logger
}

// NewBackend creates the Linux backend.
func NewBackend(log *logger.Logger) (*Backend, error) {
	log.Info("firewall: using iptables-restore/ip6tables-restore backend")
	return &Backend{log: log}, nil
}

// Apply loads a compiled ruleset (spec §4.7's output) into the kernel in
// one shot per family, replacing whatever was loaded before.
func (b *Backend) Apply(ctx context.Context, lines emitter.Lines) error {
	if err := restore(ctx, "iptables-restore", lines.V4); err != nil {
		return err
	}
	if err := restore(ctx, "ip6tables-restore", lines.V6); err != nil {
		return err
	}
	b.log.Info("firewall: ruleset applied", "v4_lines", len(lines.V4), "v6_lines", len(lines.V6))
	return nil
}

func restore(ctx context.Context, name string, script []string) error {
	if len(script) == 0 {
		return nil
	}
	pipe, err := procrun.Start(ctx, name)
	if err != nil {
		return err
	}
	for _, line := range script {
		if err := pipe.WriteLine(line); err != nil {
			pipe.Close()
			return err
		}
	}
	return pipe.Close()
}

// Flush resets the filter table of both families (spec §6, "ipload
// --flush"): the INPUT, FORWARD and OUTPUT policies become ACCEPT, every
// rule is flushed and every custom chain deleted. The nat, mangle, raw and
// security tables are left as they are.
func (b *Backend) Flush(ctx context.Context) error {
	for _, name := range []string{"iptables", "ip6tables"} {
		for _, chain := range []string{"INPUT", "FORWARD", "OUTPUT"} {
			if _, err := procrun.Run(ctx, name, "-P", chain, "ACCEPT"); err != nil {
				return apperr.Wrap(apperr.CodeSubprocess, name, "failed to reset chain policy", err)
			}
		}
		if _, err := procrun.Run(ctx, name, "-F"); err != nil {
			return apperr.Wrap(apperr.CodeSubprocess, name, "failed to flush rules", err)
		}
		if _, err := procrun.Run(ctx, name, "-X"); err != nil {
			return apperr.Wrap(apperr.CodeSubprocess, name, "failed to delete custom chains", err)
		}
	}
	b.log.Info("firewall: all rules flushed")
	return nil
}
