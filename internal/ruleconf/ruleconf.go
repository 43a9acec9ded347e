// Package ruleconf parses the domain-specific configuration language
// described in spec.md §6: INI-style, section-less at the top level, with
// fully-qualified `kind::instance::field` keys, line continuation, `#`/`;`
// comments, and four assignment operators (`=`, `+=`, `?=`, `:=`).
package ruleconf

import (
	"bufio"
	"io"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
)

// Op is one of the four assignment operators spec.md §6 names.
type Op int

const (
	// OpSet ("=") replaces the current value.
	OpSet Op = iota
	// OpAppend ("+=") concatenates onto the current value.
	OpAppend
	// OpSetIfAbsent ("?=") keeps the first value written.
	OpSetIfAbsent
	// OpSetOnce (":=") fails if the parameter was already written.
	OpSetOnce
)

// Param is one `(fully-qualified name, value, operator)` triple.
type Param struct {
	Kind     string // "table", "chain", "section", "rule", "variables", "verify", or "" for a top-level global
	Instance string
	Field    string
	Value    string
	Op       Op
	Line     int
}

// FullName reconstructs the `kind::instance::field` key.
func (p Param) FullName() string {
	if p.Kind == "" {
		return p.Field
	}
	if p.Instance == "" {
		return p.Kind + "::" + p.Field
	}
	return p.Kind + "::" + p.Instance + "::" + p.Field
}

// ParseFile parses one configuration file's raw text into its ordered list
// of parameters. Malformed lines are reported with apperr.CodeConfig and
// the caller (the loader) decides whether to skip the whole file.
func ParseFile(r io.Reader) ([]Param, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var params []Param
	var pending strings.Builder
	lineNo := 0
	startLine := 0

	flush := func() error {
		if pending.Len() == 0 {
			return nil
		}
		line := strings.TrimSpace(pending.String())
		pending.Reset()
		if line == "" {
			return nil
		}
		p, err := parseLine(line, startLine)
		if err != nil {
			return err
		}
		params = append(params, p)
		return nil
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimRight(raw, " \t\r")

		if pending.Len() == 0 {
			startLine = lineNo
			stripped := strings.TrimSpace(raw)
			if stripped == "" || strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, ";") {
				continue
			}
		}

		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			continue
		}

		pending.WriteString(trimmed)
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeFilesystem, "", "failed reading configuration", err)
	}
	return params, nil
}

var operators = []struct {
	token string
	op    Op
}{
	{"+=", OpAppend},
	{"?=", OpSetIfAbsent},
	{":=", OpSetOnce},
	{"=", OpSet},
}

func parseLine(line string, lineNo int) (Param, error) {
	var opIdx = -1
	var op Op
	for _, o := range operators {
		if i := strings.Index(line, o.token); i >= 0 {
			if opIdx == -1 || i < opIdx {
				opIdx = i
				op = o.op
			}
		}
	}
	if opIdx < 0 {
		return Param{}, apperr.Newf(apperr.CodeConfig, "line %d: missing assignment operator", lineNo)
	}

	key := strings.TrimSpace(line[:opIdx])
	opLen := 1
	switch op {
	case OpAppend, OpSetIfAbsent, OpSetOnce:
		opLen = 2
	}
	value := strings.TrimSpace(line[opIdx+opLen:])

	if key == "" {
		return Param{}, apperr.Newf(apperr.CodeConfig, "line %d: empty parameter name", lineNo)
	}

	kind, instance, field := splitKey(key)
	return Param{Kind: kind, Instance: instance, Field: field, Value: value, Op: op, Line: lineNo}, nil
}

func splitKey(key string) (kind, instance, field string) {
	parts := strings.Split(key, "::")
	switch len(parts) {
	case 1:
		return "", "", parts[0]
	case 2:
		return parts[0], "", parts[1]
	default:
		return parts[0], strings.Join(parts[1:len(parts)-1], "::"), parts[len(parts)-1]
	}
}

// ParamMap accumulates Params honoring each one's assignment operator, the
// way the loader folds every file in the rules path into one running map
// (spec §4.1 step 3).
type ParamMap struct {
	values map[string]string
	order  []string
	seen   map[string]bool
}

// NewParamMap creates an empty accumulator.
func NewParamMap() *ParamMap {
	return &ParamMap{values: make(map[string]string), seen: make(map[string]bool)}
}

// Apply folds one parameter into the map per its operator.
func (m *ParamMap) Apply(p Param) error {
	name := p.FullName()
	switch p.Op {
	case OpSet:
		m.values[name] = p.Value
	case OpAppend:
		if cur, ok := m.values[name]; ok && cur != "" {
			m.values[name] = cur + "," + p.Value
		} else {
			m.values[name] = p.Value
		}
	case OpSetIfAbsent:
		if !m.seen[name] {
			m.values[name] = p.Value
		}
	case OpSetOnce:
		if m.seen[name] {
			return apperr.About(apperr.CodeConfig, name, "set-once parameter written more than once")
		}
		m.values[name] = p.Value
	}
	if !m.seen[name] {
		m.order = append(m.order, name)
	}
	m.seen[name] = true
	return nil
}

// Get returns a fully-qualified parameter's final value.
func (m *ParamMap) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Names returns every fully-qualified parameter name, in first-write order.
func (m *ParamMap) Names() []string {
	return append([]string(nil), m.order...)
}

// All returns a copy of the full name→value map.
func (m *ParamMap) All() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
