package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m2osw/ipload/internal/addrparse"
	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/ipsetmgr"
)

// CollectSets gathers every ipset a loaded document's rules reference
// (spec §3's `set`/`set_type`/`set_data`/`set_from_file` match fields),
// deduplicated by name, resolving `set_from_file` entries against
// ipListsPath the same way DiscoverFiles resolves rule directories.
func CollectSets(doc *Document, ipListsPath string) ([]ipsetmgr.Set, error) {
	seen := make(map[string]bool)
	var out []ipsetmgr.Set

	for _, refs := range doc.ChainRefs {
		for _, ref := range refs {
			for _, sref := range ref.Sections {
				for _, r := range sref.Rules {
					for _, name := range r.Sets {
						if seen[name] {
							continue
						}
						seen[name] = true

						data := append([]string{}, r.SetData...)
						for _, file := range r.SetFromFile {
							entries, err := readIPListFile(ipListsPath, file)
							if err != nil {
								return nil, err
							}
							data = append(data, entries...)
						}

						out = append(out, ipsetmgr.Set{Name: name, Type: r.SetType, Data: data})
					}
				}
			}
		}
	}
	return out, nil
}

// readIPListFile searches the colon-separated ipListsPath for name and
// parses it with addrparse's file-comment-aware options, returning each
// entry's canonical text.
func readIPListFile(ipListsPath, name string) ([]string, error) {
	for _, base := range strings.Split(ipListsPath, ":") {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		path := filepath.Join(base, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, apperr.Wrap(apperr.CodeFilesystem, path, "failed to read ip-list file", err)
		}
		entries, err := addrparse.Parse(string(content), addrparse.DefaultFileOptions())
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfig, path, "failed to parse ip-list file", err)
		}
		entries = addrparse.Optimize(entries)
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.String())
		}
		return out, nil
	}
	return nil, apperr.About(apperr.CodeFilesystem, name, "ip-list file not found in IPLOAD_IP_LISTS_PATH")
}
