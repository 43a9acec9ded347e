//go:build !linux

package firewall

import (
	"context"

	"github.com/m2osw/ipload/internal/emitter"
	"github.com/m2osw/ipload/internal/logger"
)

// Backend is a development stub for non-Linux platforms: it logs what
// would have been applied instead of shelling out to iptables-restore,
// which does not exist outside Linux.
type Backend struct {
	log *logger.Logger
}

// NewBackend creates a stub backend (non-Linux).
func NewBackend(log *logger.Logger) (*Backend, error) {
	log.Info("firewall: using no-op stub backend (non-Linux platform)")
	return &Backend{log: log}, nil
}

// Apply logs the ruleset it would have applied.
func (b *Backend) Apply(ctx context.Context, lines emitter.Lines) error {
	b.log.Info("firewall-stub: would apply ruleset", "v4_lines", len(lines.V4), "v6_lines", len(lines.V6))
	return nil
}

// Flush logs that a flush would have occurred.
func (b *Backend) Flush(ctx context.Context) error {
	b.log.Info("firewall-stub: would flush all rules")
	return nil
}
