// Command ipload compiles the declarative rule configuration described in
// spec.md §3-4 into iptables-restore/ip6tables-restore scripts and
// optionally applies them, following the same load → parse → sort →
// emit → pipe-to-kernel pipeline as the original ipload tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/m2osw/ipload/internal/apperr"
	"github.com/m2osw/ipload/internal/bootflags"
	"github.com/m2osw/ipload/internal/config"
	"github.com/m2osw/ipload/internal/emitter"
	"github.com/m2osw/ipload/internal/firewall"
	"github.com/m2osw/ipload/internal/ipsetmgr"
	"github.com/m2osw/ipload/internal/loader"
	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/rulesdoc"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		doLoad        = flag.Bool("load", false, "compile and apply the configured rules")
		doFlush       = flag.Bool("flush", false, "reset the filter table: ACCEPT policies, no rules, no custom chains")
		doShow        = flag.Bool("show", false, "print the compiled restore scripts without applying them")
		doShowDeps    = flag.Bool("show-dependencies", false, "print the resolved chain/section/rule ordering")
		doShowVars    = flag.Bool("show-variables", false, "print the resolved variable environment")
		doVerify      = flag.Bool("verify", false, "compile the configuration and report errors, without applying")
		doDryRun      = flag.Bool("dry-run", false, "alias for --verify")
		loadBasic     = flag.Bool("load-basic", false, "mark the basic boot stage applied after loading")
		loadDefault   = flag.Bool("load-default", false, "mark the default boot stage applied after loading")
		comment       = flag.String("comment", "", "comment recorded with this invocation (logged only)")
		noDefaults    = flag.Bool("no-defaults", false, "skip files under general/ when discovering rules")
		quiet         = flag.Bool("quiet", false, "only log warnings and errors")
		verbose       = flag.Bool("verbose", false, "enable debug logging")
		rulesPathFlag = flag.String("rules", "", "override IPLOAD_RULES_PATH")
		ipListsFlag   = flag.String("ip-lists", "", "override IPLOAD_IP_LISTS_PATH")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipload: failed to load configuration:", err)
		return 1
	}
	if *rulesPathFlag != "" {
		cfg.RulesPath = *rulesPathFlag
	}
	if *ipListsFlag != "" {
		cfg.IPListsPath = *ipListsFlag
	}

	level := cfg.LogLevel
	if *quiet {
		level = "warn"
	}
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(level, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipload: failed to init logger:", err)
		return 1
	}
	if *comment != "" {
		log.Info("ipload invoked", "comment", *comment)
	}

	ctx := context.Background()

	if *doFlush {
		backend, err := firewall.NewBackend(log)
		if err != nil {
			log.Error("failed to init firewall backend", "error", err)
			return 1
		}
		if err := backend.Flush(ctx); err != nil {
			log.Error("flush failed", "error", err)
			return 1
		}
		if err := bootflags.NewTracker(cfg.RunDir).Clear(); err != nil {
			log.Warn("failed to clear boot flags", "error", err)
		}
		return 0
	}

	files, err := loader.DiscoverFiles(cfg.RulesPath)
	if err != nil {
		log.Error("failed to discover rule files", "error", err)
		return 1
	}
	if *noDefaults {
		files = excludeGeneral(files)
	}

	pm, vars, err := loader.Load(files, log)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	doc, invalid := loader.Build(pm, vars)
	for name, ierr := range invalid {
		log.Warn("skipping invalid configuration item", "name", name, "error", ierr)
	}

	if *doShowVars {
		os.Stdout.Write(rulesdoc.DumpVariables(vars))
		return 0
	}
	if *doShowDeps {
		fmt.Print(rulesdoc.ShowDependencies(doc))
		return 0
	}

	lines, err := compileAll(doc)
	if err != nil {
		log.Error("compilation failed", "error", err)
		return 1
	}

	if *doShow {
		printLines(lines)
		return 0
	}
	if *doVerify || *doDryRun {
		log.Info("configuration compiled successfully", "invalid_items", len(invalid))
		if len(invalid) > 0 {
			return 1
		}
		return 0
	}

	if *doLoad || *loadBasic || *loadDefault {
		sets, err := loader.CollectSets(doc, cfg.IPListsPath)
		if err != nil {
			log.Error("failed to collect ip sets", "error", err)
			return 1
		}
		mgr := ipsetmgr.New(ipsetmgr.Templates{
			CreateSet:       "ipset create [name] [type] -exist",
			CreateSetRanged: "ipset create [name] [type] range [range] -exist",
			AddToSet:        "ipset add [name] -exist",
		})
		if err := mgr.Apply(ctx, sets); err != nil {
			log.Error("failed to apply ip sets", "error", err)
			return 1
		}

		backend, err := firewall.NewBackend(log)
		if err != nil {
			log.Error("failed to init firewall backend", "error", err)
			return 1
		}
		if err := backend.Apply(ctx, lines); err != nil {
			log.Error("failed to apply ruleset", "error", err)
			return 1
		}

		tracker := bootflags.NewTracker(cfg.RunDir)
		stage := bootflags.StageFirewall
		switch {
		case *loadBasic:
			stage = bootflags.StageBasic
		case *loadDefault:
			stage = bootflags.StageDefault
		}
		if err := tracker.Mark(stage); err != nil {
			log.Warn("failed to record boot flag", "error", err)
		}
		log.Info("ruleset loaded", "stage", stage)
	}

	return 0
}

// compileAll emits every reserved table's restore-script lines, in
// canonical order, and concatenates them into one script per family.
func compileAll(doc *loader.Document) (emitter.Lines, error) {
	var out emitter.Lines
	for _, table := range model.ValidTables {
		refs := doc.ChainRefs[table]
		if len(refs) == 0 {
			continue
		}
		lines, err := emitter.EmitTable(table, refs, emitter.Options{})
		if err != nil {
			return emitter.Lines{}, apperr.Wrap(apperr.CodeConfig, string(table), "failed to emit table", err)
		}
		out.V4 = append(out.V4, lines.V4...)
		out.V6 = append(out.V6, lines.V6...)
	}
	return out, nil
}

func printLines(lines emitter.Lines) {
	fmt.Println("# iptables-restore")
	for _, l := range lines.V4 {
		fmt.Println(l)
	}
	fmt.Println("# ip6tables-restore")
	for _, l := range lines.V6 {
		fmt.Println(l)
	}
}

func excludeGeneral(files []string) []string {
	out := files[:0:0]
	sep := string(os.PathSeparator) + "general" + string(os.PathSeparator)
	for _, f := range files {
		if !strings.Contains(f, sep) {
			out = append(out, f)
		}
	}
	return out
}
