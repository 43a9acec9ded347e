// Package scheme loads the block-tool scheme files described in the
// GLOSSARY ("Scheme — a named configuration fragment selecting which
// destination ports an IP block should target") and grounded on
// original_source/tools/iplock/scheme.cpp: each scheme names the
// batch/block/check/flush/ports/unblock/allowlist commands to run for one
// named port profile (e.g. "http" = {80,443}, "all" = every port).
package scheme

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/ruleconf"
)

// AllScheme is the reserved name meaning "every port" (used by the
// daemon's keep-longest merge: a block re-issued as "all" always wins).
const AllScheme = "all"

var nameCharset = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Scheme is one parsed scheme file.
type Scheme struct {
	Name      string
	Batch     string
	Block     string
	Check     string
	Flush     string
	Unblock   string
	Allowlist string
	Ports     []int
}

// Store is the set of schemes loaded from a schemes directory, keyed by
// name.
type Store struct {
	schemes map[string]*Scheme
	dflt    string
}

// NewStore creates an empty scheme store with the given default scheme
// name (used when a BLOCK message's URI carries no scheme or an unknown
// one).
func NewStore(defaultScheme string) *Store {
	return &Store{schemes: make(map[string]*Scheme), dflt: defaultScheme}
}

// Load parses one scheme file's already-read parameters (as produced by
// ruleconf.ParseFile against a flat `field = value` scheme file) and adds
// it to the store. Only each parameter's Field is read.
func (s *Store) Load(name string, params []ruleconf.Param) error {
	if !nameCharset.MatchString(name) {
		return apperr.About(apperr.CodeConfig, name, "scheme name must match [a-z][a-z0-9_-]*")
	}
	sc := &Scheme{Name: name}
	for _, p := range params {
		switch p.Field {
		case "batch":
			sc.Batch = p.Value
		case "block":
			sc.Block = p.Value
		case "check":
			sc.Check = p.Value
		case "flush":
			sc.Flush = p.Value
		case "unblock":
			sc.Unblock = p.Value
		case "allowlist":
			sc.Allowlist = p.Value
		case "ports":
			ports, err := parsePorts(p.Value)
			if err != nil {
				return apperr.Wrap(apperr.CodeConfig, name, "invalid ports field", err)
			}
			sc.Ports = ports
		}
	}
	s.schemes[name] = sc
	return nil
}

// Resolve looks up a scheme by name, falling back to the configured
// default when name is empty, and to an error when neither exists.
func (s *Store) Resolve(name string) (*Scheme, error) {
	if name == "" {
		name = s.dflt
	}
	sc, ok := s.schemes[name]
	if !ok {
		sc, ok = s.schemes[s.dflt]
		if !ok {
			return nil, apperr.About(apperr.CodeConfig, name, "unknown scheme and no default scheme configured")
		}
	}
	return sc, nil
}

// LoadDir loads every `*.conf` file directly under dir as one scheme
// named after its basename (e.g. "http.conf" becomes scheme "http"),
// mirroring /etc/iplock/schemes/*.conf.
func LoadDir(dir, defaultScheme string) (*Store, error) {
	store := NewStore(defaultScheme)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, apperr.Wrap(apperr.CodeFilesystem, dir, "failed to read schemes directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".conf" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".conf")
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeFilesystem, entry.Name(), "failed to open scheme file", err)
		}
		params, err := ruleconf.ParseFile(f)
		f.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, entry.Name(), "failed to parse scheme file", err)
		}
		if err := store.Load(name, params); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Names returns every loaded scheme's name, sorted, for `--list-allowed-sets`.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.schemes))
	for name := range s.schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func parsePorts(value string) ([]int, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	ports := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 || n > 65535 {
			return nil, apperr.Newf(apperr.CodeConfig, "invalid port %q", f)
		}
		ports = append(ports, n)
	}
	return ports, nil
}
