// Package variables implements the variable environment described in
// spec.md §3: a name→string mapping used to interpolate `${name}` tokens
// into every value read from the configuration, applied once at
// rule-construction time.
package variables

import (
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
)

// Verify is the validation flag a variable can carry: whether loading must
// fail if the variable ends up missing or empty.
type Verify int

const (
	// VerifyNone means the variable is never checked.
	VerifyNone Verify = iota
	// VerifyDefined fails the load if the variable was never set at all.
	VerifyDefined
	// VerifyRequired fails the load if the variable is absent or empty.
	VerifyRequired
)

// Store is the variable environment. It is not safe for concurrent use;
// the loader builds it single-threaded before any rule is constructed.
type Store struct {
	values map[string]string
	verify map[string]Verify
}

// New creates an empty variable store.
func New() *Store {
	return &Store{
		values: make(map[string]string),
		verify: make(map[string]Verify),
	}
}

// Set assigns a variable's value, overwriting any prior value.
func (s *Store) Set(name, value string) {
	s.values[name] = value
}

// Get returns a variable's raw (uninterpolated) value.
func (s *Store) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// MarkVerify records a `[verify]` entry for the given variable name.
func (s *Store) MarkVerify(name string, v Verify) {
	s.verify[name] = v
}

// Verify evaluates every `[verify]` entry collected so far: an entry
// marked `required` fails if the variable is absent or empty, one marked
// `defined` fails only if the variable was never set (spec §4.1 step 5).
func (s *Store) Verify() error {
	for name, kind := range s.verify {
		value, present := s.values[name]
		switch kind {
		case VerifyRequired:
			if !present || value == "" {
				return apperr.About(apperr.CodeConfig, name, "variable is required but missing or empty")
			}
		case VerifyDefined:
			if !present {
				return apperr.About(apperr.CodeConfig, name, "variable must be defined")
			}
		}
	}
	return nil
}

// Expand interpolates every `${name}` occurrence in value using the
// current variable set. Interpolation is applied exactly once: a
// substituted value is never itself re-scanned for further `${...}`
// tokens, which prevents runaway or self-referential expansion.
func (s *Store) Expand(value string) string {
	var b strings.Builder
	i := 0
	for i < len(value) {
		start := strings.Index(value[i:], "${")
		if start < 0 {
			b.WriteString(value[i:])
			break
		}
		start += i
		end := strings.Index(value[start:], "}")
		if end < 0 {
			b.WriteString(value[i:])
			break
		}
		end += start
		b.WriteString(value[i:start])
		name := value[start+2 : end]
		if v, ok := s.values[name]; ok {
			b.WriteString(v)
		}
		// else: unknown variable expands to the empty string
		i = end + 1
	}
	return b.String()
}

// All returns a copy of the current name→value mapping, mainly for the
// `--show-variables` CLI option.
func (s *Store) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
