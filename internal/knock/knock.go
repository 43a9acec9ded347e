// Package knock implements the port-knock sequence grammar described in
// spec.md §4.5: a comma-separated list of `protocol:port/duration` steps
// (protocol optional, duration in seconds with an optional `s`/`m`
// suffix), with the uniqueness and non-monotonic ordering checks the spec
// requires.
package knock

import (
	"strconv"
	"strings"
	"time"

	"github.com/m2osw/ipload/internal/apperr"
)

// Step is one knock in the sequence: touch Port (TCP/UDP per Protocol)
// within Window before the next step is allowed.
type Step struct {
	Protocol string // "tcp" or "udp"; defaults to "tcp" when omitted
	Port     int
	Window   time.Duration
}

// Parse parses the full comma-separated knock sequence and validates it
// against spec §4.5: all ports unique, the sequence neither fully
// ascending nor fully descending.
func Parse(input string) ([]Step, error) {
	var steps []Step
	for _, raw := range strings.Split(input, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		step, err := parseStep(raw)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, apperr.New(apperr.CodeGrammar, "knock sequence must have at least one step")
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseStep(raw string) (Step, error) {
	protocol := "tcp"
	rest := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		protocol = strings.ToLower(raw[:i])
		rest = raw[i+1:]
		if protocol != "tcp" && protocol != "udp" {
			return Step{}, apperr.About(apperr.CodeGrammar, raw, "knock protocol must be tcp or udp")
		}
	}

	parts := strings.SplitN(rest, "/", 2)
	port, err := strconv.Atoi(parts[0])
	if err != nil || port < 1 || port > 65535 {
		return Step{}, apperr.About(apperr.CodeGrammar, raw, "invalid knock port")
	}

	window := time.Second
	if len(parts) == 2 {
		window, err = parseDuration(parts[1])
		if err != nil {
			return Step{}, apperr.Wrap(apperr.CodeGrammar, raw, "invalid knock duration", err)
		}
	}

	return Step{Protocol: protocol, Port: port, Window: window}, nil
}

func parseDuration(s string) (time.Duration, error) {
	unit := time.Second
	switch {
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
		unit = time.Minute
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, apperr.About(apperr.CodeGrammar, s, "invalid duration value")
	}
	return time.Duration(n) * unit, nil
}

// ValidateAgainstDestinationPorts enforces the last clause of §4.5: no
// knock port may equal any destination port on the same rule.
func ValidateAgainstDestinationPorts(steps []Step, destinationPorts []int) error {
	dst := make(map[int]bool, len(destinationPorts))
	for _, p := range destinationPorts {
		dst[p] = true
	}
	for _, s := range steps {
		if dst[s.Port] {
			return apperr.Newf(apperr.CodeGrammar, "knock port %d collides with a destination port", s.Port)
		}
	}
	return nil
}

func validateSteps(steps []Step) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if seen[s.Port] {
			return apperr.Newf(apperr.CodeGrammar, "duplicate knock port %d", s.Port)
		}
		seen[s.Port] = true
	}

	if len(steps) < 2 {
		return nil
	}
	ascending, descending := true, true
	for i := 1; i < len(steps); i++ {
		if steps[i].Port <= steps[i-1].Port {
			ascending = false
		}
		if steps[i].Port >= steps[i-1].Port {
			descending = false
		}
	}
	if ascending || descending {
		return apperr.New(apperr.CodeGrammar, "knock port sequence must not be fully ascending or fully descending")
	}
	return nil
}
