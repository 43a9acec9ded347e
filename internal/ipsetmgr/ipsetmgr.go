// Package ipsetmgr implements the ipset manager described in spec.md
// §4.8: for each referenced set, decide whether it needs an IPv4 variant,
// an IPv6 variant, or a single shared set, create it via a templated
// command, and populate it through one persistent pipe per (set, family)
// pair rather than one subprocess per member.
package ipsetmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/m2osw/ipload/internal/addrparse"
	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/procrun"
)

// Family is an ipset's address family, or FamilyNone for non-address sets
// (e.g. bitmap:port).
type Family int

const (
	FamilyNone Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) suffix() string {
	switch f {
	case FamilyV4:
		return "_ipv4"
	case FamilyV6:
		return "_ipv6"
	default:
		return ""
	}
}

// Set describes one configured ipset: its kernel name, its ipset type,
// and the member data to load (addresses, ranges, or ports depending on
// Type).
type Set struct {
	Name string
	Type string
	Data []string
}

// isAddressBearing mirrors spec §4.8: a set type containing "ip" or "net"
// needs per-family variants; everything else (bitmap:port, ...) is a
// single shared set.
func (s Set) isAddressBearing() bool {
	return strings.Contains(s.Type, "ip") || strings.Contains(s.Type, "net")
}

// Templates holds the three command templates the manager shells out.
// The caller supplies them; cmd/ipload passes fixed ipset command lines
// and does not read them from the `[variables]` section.
type Templates struct {
	CreateSet       string // e.g. "ipset create [name] [type]"
	CreateSetRanged string // variant used for bitmap:port with a range clause
	AddToSet        string // e.g. "ipset add [name] -" reading members from stdin
}

// Manager creates and populates ipsets using the configured templates.
type Manager struct {
	templates Templates
}

// New builds a Manager bound to the given command templates.
func New(templates Templates) *Manager {
	return &Manager{templates: templates}
}

// Apply creates (if needed) and populates every set in the list.
func (m *Manager) Apply(ctx context.Context, sets []Set) error {
	for _, s := range sets {
		if err := m.applyOne(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) applyOne(ctx context.Context, s Set) error {
	if !s.isAddressBearing() {
		if err := m.createSet(ctx, s.Name, s.Type, FamilyNone, s); err != nil {
			return err
		}
		return m.populate(ctx, s.Name, FamilyNone, s.Data)
	}

	v4, v6, err := splitByFamily(s.Data)
	if err != nil {
		return err
	}
	if len(v4) > 0 {
		if err := m.createSet(ctx, s.Name+FamilyV4.suffix(), s.Type, FamilyV4, s); err != nil {
			return err
		}
		if err := m.populate(ctx, s.Name+FamilyV4.suffix(), FamilyV4, v4); err != nil {
			return err
		}
	}
	if len(v6) > 0 {
		if err := m.createSet(ctx, s.Name+FamilyV6.suffix(), s.Type, FamilyV6, s); err != nil {
			return err
		}
		if err := m.populate(ctx, s.Name+FamilyV6.suffix(), FamilyV6, v6); err != nil {
			return err
		}
	}
	return nil
}

func splitByFamily(data []string) (v4, v6 []string, err error) {
	for _, raw := range data {
		entries, perr := addrparse.Parse(raw, addrparse.DefaultAddressOptions())
		if perr != nil {
			return nil, nil, perr
		}
		for _, e := range entries {
			if e.IsIPv6() {
				v6 = append(v6, e.String())
			} else {
				v4 = append(v4, e.String())
			}
		}
	}
	return v4, v6, nil
}

func (m *Manager) createSet(ctx context.Context, name, setType string, family Family, s Set) error {
	template := m.templates.CreateSet
	if strings.HasPrefix(s.Type, "bitmap:port") {
		template = m.templates.CreateSetRanged
		minPort, maxPort := portRange(s.Data)
		template = strings.ReplaceAll(template, "[range]", fmt.Sprintf("%d-%d", minPort, maxPort))
	}
	cmdline := strings.NewReplacer("[name]", name, "[type]", setType).Replace(template)
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return apperr.New(apperr.CodeConfig, "empty create_set template")
	}
	_, err := procrun.Run(ctx, args[0], args[1:]...)
	return err
}

func portRange(data []string) (min, max int) {
	entries, err := addrparse.Parse(strings.Join(data, ","), addrparse.DefaultPortOptions())
	if err != nil || len(entries) == 0 {
		return 0, 65535
	}
	min, max = entries[0].PortFrom, entries[0].PortFrom
	for _, e := range entries {
		if e.PortFrom < min {
			min = e.PortFrom
		}
		if e.PortTo > max {
			max = e.PortTo
		}
	}
	return min, max
}

// populate streams every member through a single long-lived pipe, per the
// "subprocess fan-out for ipset" design note.
func (m *Manager) populate(ctx context.Context, name string, family Family, members []string) error {
	if len(members) == 0 {
		return nil
	}
	cmdline := strings.ReplaceAll(m.templates.AddToSet, "[name]", name)
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return apperr.New(apperr.CodeConfig, "empty add_to_set template")
	}

	pipe, err := procrun.Start(ctx, args[0], args[1:]...)
	if err != nil {
		return err
	}
	for _, member := range members {
		if err := pipe.WriteLine(member); err != nil {
			return err
		}
	}
	return pipe.Close()
}
