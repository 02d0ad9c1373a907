// Command binarycompat checks a set of managed assemblies for binary
// compatibility against each other: unresolved references, version
// mismatches, missing types/members, and (optionally) InternalsVisibleTo
// exposure and interop-portability smells.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"binarycompat/internal/applog"
	"binarycompat/internal/assembly"
	"binarycompat/internal/check"
	"binarycompat/internal/classify"
	"binarycompat/internal/cliargs"
	"binarycompat/internal/discover"
	"binarycompat/internal/ivt"
	"binarycompat/internal/loader"
	"binarycompat/internal/redirect"
	"binarycompat/internal/report"
	"binarycompat/internal/resolve"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run implements the Driver (§4.H): parse args, discover inputs, load and
// check every non-framework assembly, apply config redirects, then render
// and compare the report. Returns the process exit code (§6: 0/1/-1).
func run(args []string, stdout, stderr io.Writer) int {
	parsed, err := cliargs.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return -1
	}
	if parsed.Help {
		fmt.Fprint(stdout, cliargs.Usage)
		return 0
	}

	logger := applog.New(stderr, parsed.Verbose, parsed.Quiet)

	includes := parsed.Includes
	if len(includes) == 0 {
		includes = []string{"."}
	}
	caseInsensitive := loader.DefaultCaseInsensitive()

	files, err := discover.Discover(discover.Options{
		Includes:        includes,
		Excludes:        parsed.Excludes,
		FilePatterns:    parsed.Patterns,
		CaseInsensitive: caseInsensitive,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return -1
	}

	var assemblyPaths, configPaths []string
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), ".config") {
			configPaths = append(configPaths, f)
		} else {
			assemblyPaths = append(assemblyPaths, f)
		}
	}

	store := report.NewStore()
	class := classify.New()
	ld := loader.New(logger, class, caseInsensitive)

	resolver := resolve.New(ld, class, store, logger, resolve.Options{
		Windows:     runtime.GOOS == "windows",
		InputFiles:  assemblyPaths,
		RuntimeDirs: resolve.DefaultRuntimeDirs(),
		GACDirs:     resolve.DefaultGACDirs(),
	})

	ivtAnalyzer := ivt.New(parsed.IVT)
	checker := check.New(resolver, class, store, ivtAnalyzer, parsed.IgnoreVersionMismatch)

	var loaded []*assembly.Def
	for _, p := range assemblyPaths {
		def := ld.Load(p, store)
		if def == nil {
			continue
		}
		loaded = append(loaded, def)
	}

	for _, def := range loaded {
		if class.IsFramework(def) {
			continue
		}
		checker.Check(def)
		if parsed.EmbeddedInteropTypes {
			checker.CheckEmbeddedInteropTypes(def)
		}
		if parsed.IntPtrCtors {
			checker.CheckIntPtrCtors(def)
		}
	}

	applyRedirects(logger, checker, loaded, configPaths)
	checker.EmitMismatches()

	examined := report.SortExamined(ld.Examined)
	rendered := report.Render(store.Sorted(), examined, parsed.ListAssemblies)

	result, diff, err := report.CompareAndWrite(parsed.OutPath, rendered)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return -1
	}
	if result == report.Diverged {
		for _, line := range diff {
			fmt.Fprintln(stderr, line)
		}
	}

	if parsed.IVT {
		writeIVTReports(logger, parsed.OutPath, ivtAnalyzer)
	}

	if result == report.Diverged {
		return 1
	}
	return 0
}

// applyRedirects is 4.E: every loaded assembly's conventional
// "<file>.config" plus every explicitly discovered config file is parsed
// and matched against the checker's pending version mismatches.
func applyRedirects(logger *slog.Logger, checker *check.Checker, loaded []*assembly.Def, extraConfigs []string) {
	seen := make(map[string]struct{})
	tryApply := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		redirects, err := redirect.Parse(path)
		if err != nil {
			logger.Warn("failed to parse config", "path", path, "error", err)
			return
		}
		if len(redirects) == 0 {
			return
		}
		redirect.Apply(path, redirects, checker.Mismatches())
	}

	for _, def := range loaded {
		tryApply(assembly.ConfigFileFor(def.Path))
	}
	for _, cfg := range extraConfigs {
		tryApply(cfg)
	}
}

func writeIVTReports(logger *slog.Logger, outPath string, analyzer *ivt.Analyzer) {
	usages := analyzer.Sorted()
	ivtPath := outPath + ".ivt.txt"
	roslynPath := outPath + ".ivt.roslyn.txt"
	if err := os.WriteFile(ivtPath, []byte(ivt.Render(usages)), 0o644); err != nil {
		logger.Warn("failed to write ivt report", "path", ivtPath, "error", err)
	}
	if err := os.WriteFile(roslynPath, []byte(ivt.RenderRoslyn(usages)), 0o644); err != nil {
		logger.Warn("failed to write ivt roslyn report", "path", roslynPath, "error", err)
	}
}
