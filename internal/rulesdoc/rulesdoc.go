// Package rulesdoc renders the documentation views ipload exposes over a
// loaded configuration: the `--show-dependencies` Makefile-like chain and
// section ordering, and the `--show-variables` dump of the resolved
// variable environment. The variable dump is built with hclwrite and
// go-cty the way grimm-is-flywall's internal/configdoc renders its HCL
// documentation, repurposed here to emit configuration rather than parse
// struct tags describing it.
package rulesdoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/variables"
	"github.com/zclconf/go-cty/cty"
)

// ShowDependencies renders a Makefile-like listing of every table's chains,
// sections (in their resolved dependency order), and rules, annotated with
// each section's before/after declarations.
func ShowDependencies(doc *model.Document) string {
	var b strings.Builder

	tables := make([]model.TableName, 0, len(doc.ChainRefs))
	for t := range doc.ChainRefs {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })

	for _, table := range tables {
		refs := doc.ChainRefs[table]
		sort.Slice(refs, func(i, j int) bool { return refs[i].Chain.Name < refs[j].Chain.Name })
		for _, ref := range refs {
			fmt.Fprintf(&b, "%s:%s:\n", table, ref.Chain.Name)
			for _, sref := range ref.Sections {
				deps := sectionDeps(sref.Section)
				if deps == "" {
					fmt.Fprintf(&b, "  %s\n", sref.Section.Name)
				} else {
					fmt.Fprintf(&b, "  %s: %s\n", sref.Section.Name, deps)
				}
				for _, r := range sref.Rules {
					fmt.Fprintf(&b, "    %s\n", ruleLine(r))
				}
			}
		}
	}
	return b.String()
}

func sectionDeps(s *model.Section) string {
	var parts []string
	for _, a := range s.After {
		parts = append(parts, "after "+a)
	}
	for _, bf := range s.Before {
		parts = append(parts, "before "+bf)
	}
	return strings.Join(parts, ", ")
}

func ruleLine(r *model.Rule) string {
	var parts []string
	if len(r.After) > 0 {
		parts = append(parts, "after "+strings.Join(r.After, ","))
	}
	if len(r.Before) > 0 {
		parts = append(parts, "before "+strings.Join(r.Before, ","))
	}
	if len(parts) == 0 {
		return r.Name
	}
	return r.Name + " (" + strings.Join(parts, "; ") + ")"
}

// DumpVariables renders the resolved variable environment as an HCL
// document, one attribute per variable, sorted by name so the output is
// stable across runs.
func DumpVariables(vars *variables.Store) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	block := body.AppendNewBlock("variables", nil)
	blockBody := block.Body()

	all := vars.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		blockBody.SetAttributeValue(name, cty.StringVal(all[name]))
	}
	return f.Bytes()
}
