// Package loader implements spec.md §4.1: scanning the rules path,
// partitioning general vs. specialized configuration, applying
// `ipload.d/` override fragments, folding every file into one parameter
// map through the assignment operators, and building the final rule/
// chain/section model from it.
package loader

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/ruleconf"
	"github.com/m2osw/ipload/internal/variables"
)

// DiscoverFiles walks every base directory in a colon-separated rules
// path and returns the ordered list of *.conf files to load: general
// files first (path contains "/general/"), then specialized files, then
// `ipload.d/` override fragments in filename order so higher-numbered
// overrides apply last (spec §4.1 steps 1-2).
func DiscoverFiles(rulesPath string) ([]string, error) {
	var general, specialized, overrides []string

	for _, base := range strings.Split(rulesPath, ":") {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if filepath.Ext(path) != ".conf" {
				return nil
			}
			rel := strings.TrimPrefix(path, base)
			switch {
			case strings.Contains(rel, string(filepath.Separator)+"ipload.d"+string(filepath.Separator)):
				overrides = append(overrides, path)
			case strings.Contains(rel, string(filepath.Separator)+"general"+string(filepath.Separator)):
				general = append(general, path)
			default:
				specialized = append(specialized, path)
			}
			return nil
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeFilesystem, base, "failed to scan rules directory", err)
		}
	}

	sort.Strings(general)
	sort.Strings(specialized)
	sort.Strings(overrides)

	files := make([]string, 0, len(general)+len(specialized)+len(overrides))
	files = append(files, general...)
	files = append(files, specialized...)
	files = append(files, overrides...)
	return files, nil
}

// Load reads every file in files, folding parameters into one ParamMap
// and variables into one Store. A bad file is reported through log and
// skipped, per spec §4.1's "failure is recoverable" rule; the returned
// error is non-nil only for conditions that must abort the whole load
// (currently: a `set-once` violation, which indicates a conflicting
// configuration rather than a single bad file, and a failed `[verify]`
// check once every file is read).
func Load(files []string, log *logger.Logger) (*ruleconf.ParamMap, *variables.Store, error) {
	pm := ruleconf.NewParamMap()
	vars := variables.New()

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			log.Warn("skipping unreadable rule file", "path", path, "error", err)
			continue
		}
		params, err := ruleconf.ParseFile(f)
		f.Close()
		if err != nil {
			log.Warn("skipping malformed rule file", "path", path, "error", err)
			continue
		}

		for _, p := range params {
			switch p.Kind {
			case "variables":
				vars.Set(p.Field, p.Value)
			case "verify":
				v := variables.VerifyDefined
				if p.Value == "required" {
					v = variables.VerifyRequired
				}
				vars.MarkVerify(p.Field, v)
			default:
				if err := pm.Apply(p); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if err := vars.Verify(); err != nil {
		return nil, nil, err
	}
	return pm, vars, nil
}
