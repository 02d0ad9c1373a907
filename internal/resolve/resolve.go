// Package resolve implements the reference resolver (§4.C): mapping a
// symbolic AssemblyRef to a loaded AssemblyDef via a strict, five-strategy
// layered search, memoized by the reference's full name.
package resolve

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"binarycompat/internal/assembly"
	"binarycompat/internal/classify"
	"binarycompat/internal/identity"
	"binarycompat/internal/loader"
	"binarycompat/internal/report"
)

// maxResolveDepth bounds recursive resolve() calls (§4.C failure mode, §9
// DESIGN NOTES "Deep recursion during resolve: encode as explicit depth
// budget; degrade by returning null with a diagnostic when exceeded").
const maxResolveDepth = 64

// FrameworkRedirects models the legacy-framework-redirect table (§4.C
// strategy 3, §9: "a quirk of a dictionary initializer; the intent is a
// {short-name -> set of accepted versions}"). Keys are lower-cased
// short-names.
type FrameworkRedirects map[string][]identity.Version

// Highest returns the greatest accepted version for short, and whether any
// entry exists at all.
func (f FrameworkRedirects) Highest(short string) (identity.Version, bool) {
	versions, ok := f[strings.ToLower(short)]
	if !ok || len(versions) == 0 {
		return identity.Version{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Compare(best) > 0 {
			best = v
		}
	}
	return best, true
}

// DefaultFrameworkRedirects covers the legacy Visual Basic, WindowsCE Forms,
// and pre-unification System.* versions §4.C calls out.
func DefaultFrameworkRedirects() FrameworkRedirects {
	return FrameworkRedirects{
		"microsoft.visualbasic": {{Major: 10}, {Major: 8}},
		"windowsce.forms":       {{Major: 3, Minor: 5}},
		"system.data":           {{Major: 2}},
		"system.xml":            {{Major: 2}},
		"system.web.services":   {{Major: 2}},
	}
}

// Resolver implements the five-strategy search. It owns no files itself;
// all loading goes through the injected Loader so memoization stays
// centralized in one place.
type Resolver struct {
	load        *loader.Loader
	class       *classify.Classifier
	store       *report.Store
	log         *slog.Logger
	windows     bool
	redirects   FrameworkRedirects
	inputFiles  []string // every candidate file path given/discovered on the command line
	inputDirs   []string // distinct directories containing inputFiles, sorted
	customDirs  []string // user-supplied search dirs (Options.CustomDirs), in declared order
	runtimeDirs []string // candidate ".NET runtime" directories to probe for strategy 3's non-Windows branch
	gacDirs     []string // candidate GAC directories for strategy 3's Windows branch

	memo map[string]*resolved // keyed by ref.FullName()
	depth int
}

type resolved struct {
	def *assembly.Def // nil = negative cache entry
}

// Options configures a Resolver.
type Options struct {
	Windows     bool
	Redirects   FrameworkRedirects
	InputFiles  []string
	CustomDirs  []string
	RuntimeDirs []string
	GACDirs     []string
}

// New builds a Resolver bound to l (the shared Loader) and class (the
// shared Classifier).
func New(l *loader.Loader, class *classify.Classifier, store *report.Store, log *slog.Logger, opts Options) *Resolver {
	dirSet := make(map[string]struct{})
	for _, f := range opts.InputFiles {
		dirSet[filepath.Dir(f)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	redirects := opts.Redirects
	if redirects == nil {
		redirects = DefaultFrameworkRedirects()
	}

	return &Resolver{
		load:        l,
		class:       class,
		store:       store,
		log:         log,
		windows:     opts.Windows,
		redirects:   redirects,
		inputFiles:  opts.InputFiles,
		inputDirs:   dirs,
		customDirs:  opts.CustomDirs,
		runtimeDirs: opts.RuntimeDirs,
		gacDirs:     opts.GACDirs,
		memo:        make(map[string]*resolved),
	}
}

// Resolve maps ref to a loaded AssemblyDef, or nil if no strategy succeeds.
// Memoized by ref.FullName() (§3 invariant: "Each AssemblyRef.FullName
// resolves to at most one AssemblyDef ... possibly null").
func (r *Resolver) Resolve(ref identity.AssemblyRef) *assembly.Def {
	key := ref.FullName()
	if cached, ok := r.memo[key]; ok {
		return cached.def
	}

	if r.depth >= maxResolveDepth {
		r.log.Warn("resolver recursion depth exceeded", "ref", key)
		r.store.Add("Resolver recursion depth exceeded resolving '" + key + "'")
		r.memo[key] = &resolved{}
		return nil
	}
	r.depth++
	def := r.resolveUncached(ref)
	r.depth--

	r.memo[key] = &resolved{def: def}
	return def
}

func (r *Resolver) resolveUncached(ref identity.AssemblyRef) *assembly.Def {
	if def := r.strictLoaded(ref); def != nil {
		return def
	}
	if def := r.inputSet(ref); def != nil {
		return def
	}
	if classify.IsFrameworkName(ref.ShortName) {
		if def := r.framework(ref); def != nil {
			return def
		}
	}
	if def := r.customDir(ref); def != nil {
		return def
	}
	if def := r.looseLoaded(ref); def != nil {
		return def
	}
	return nil
}

// strategy 1: strict hit among already-loaded assemblies.
func (r *Resolver) strictLoaded(ref identity.AssemblyRef) *assembly.Def {
	for _, def := range r.load.Loaded() {
		if def.ID.Equal(ref) {
			return def
		}
	}
	return nil
}

// strategy 2: input file set — stem match among given files, or
// "{short-name}.dll" in any distinct input directory. The candidate must
// load and not be a facade (§4.C strategy 2: "verified non-facade").
func (r *Resolver) inputSet(ref identity.AssemblyRef) *assembly.Def {
	for _, f := range r.inputFiles {
		stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		if strings.EqualFold(stem, ref.ShortName) {
			if def := r.loadCandidate(f); def != nil && !r.class.IsFacade(def) {
				return def
			}
		}
	}
	for _, dir := range r.inputDirs {
		candidate := filepath.Join(dir, ref.ShortName+".dll")
		if def := r.loadCandidate(candidate); def != nil && !r.class.IsFacade(def) {
			return def
		}
	}
	return nil
}

// strategy 3: framework search, only reached for framework-named refs.
func (r *Resolver) framework(ref identity.AssemblyRef) *assembly.Def {
	_, hasRedirect := r.redirects.Highest(ref.ShortName)
	useGAC := r.windows && (ref.Version.LessEqual(identity.Version{Major: 4, Minor: 0, Build: 10}) || hasRedirect)

	if useGAC {
		return r.frameworkGAC(ref)
	}
	return r.frameworkRuntimeDir(ref)
}

func (r *Resolver) frameworkGAC(ref identity.AssemblyRef) *assembly.Def {
	if strings.EqualFold(ref.ShortName, "mscorlib") {
		// Short-circuit to the desktop v4 path (§4.C).
		for _, dir := range r.gacDirs {
			candidate := filepath.Join(dir, "mscorlib.dll")
			if def := r.loadCandidate(candidate); def != nil {
				return def
			}
		}
	}
	redirectVersion, hasRedirect := r.redirects.Highest(ref.ShortName)

	for _, dir := range r.gacDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.EqualFold(e.Name(), ref.ShortName) && !strings.HasPrefix(strings.ToLower(e.Name()), strings.ToLower(ref.ShortName)+"_") {
				continue
			}
			candidate := filepath.Join(dir, e.Name(), ref.ShortName+".dll")
			def := r.loadCandidate(candidate)
			if def == nil {
				continue
			}
			if !strings.EqualFold(def.ID.ShortName, ref.ShortName) {
				continue
			}
			if def.ID.FullName() == ref.FullName() {
				return def
			}
			if ref.Version.IsZero() {
				return def
			}
			if hasRedirect && ref.Version.LessEqual(redirectVersion) {
				return def
			}
		}
	}
	return nil
}

func (r *Resolver) frameworkRuntimeDir(ref identity.AssemblyRef) *assembly.Def {
	prefix := ref.Version.Major
	// .NET Core 3.x quirk: major 4, minor in {1,2} maps to prefix "3" (§4.C).
	prefixStr := ""
	if prefix == 4 && (ref.Version.Minor == 1 || ref.Version.Minor == 2) {
		prefixStr = "3"
	} else {
		prefixStr = strconv.Itoa(int(prefix))
	}

	var best string
	for _, runtimeRoot := range r.runtimeDirs {
		entries, err := os.ReadDir(runtimeRoot)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), prefixStr) {
				continue
			}
			if best == "" || e.Name() > best {
				candidate := filepath.Join(runtimeRoot, e.Name())
				if _, err := os.Stat(filepath.Join(candidate, ref.ShortName+".dll")); err == nil {
					best = e.Name()
				}
			}
		}
		if best != "" {
			candidate := filepath.Join(runtimeRoot, best, ref.ShortName+".dll")
			if def := r.loadCandidate(candidate); def != nil {
				return def
			}
		}
		// Fall back to the active runtime directory itself.
		candidate := filepath.Join(runtimeRoot, ref.ShortName+".dll")
		if def := r.loadCandidate(candidate); def != nil {
			return def
		}
	}
	return nil
}

// strategy 4: user-supplied custom directories, first existing match wins.
func (r *Resolver) customDir(ref identity.AssemblyRef) *assembly.Def {
	for _, dir := range r.customDirs {
		candidate := filepath.Join(dir, ref.ShortName+".dll")
		if def := r.loadCandidate(candidate); def != nil {
			return def
		}
	}
	return nil
}

// strategy 5: loose hit among loaded assemblies, short-name only.
func (r *Resolver) looseLoaded(ref identity.AssemblyRef) *assembly.Def {
	for _, def := range r.load.Loaded() {
		if def.ID.EqualShortName(ref) {
			return def
		}
	}
	return nil
}

func (r *Resolver) loadCandidate(path string) *assembly.Def {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return r.load.Load(path, r.store)
}

// DefaultRuntimeDirs returns plausible ".NET runtime sibling" directories to
// probe for strategy 3's non-Windows branch, honoring DOTNET_ROOT when set.
func DefaultRuntimeDirs() []string {
	var dirs []string
	if root := os.Getenv("DOTNET_ROOT"); root != "" {
		dirs = append(dirs, filepath.Join(root, "shared", "Microsoft.NETCore.App"))
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/usr/share/dotnet/shared/Microsoft.NETCore.App", "/usr/lib/dotnet/shared/Microsoft.NETCore.App")
	}
	return dirs
}

// DefaultGACDirs returns the desktop framework GAC directories (§4.C).
func DefaultGACDirs() []string {
	winDir := os.Getenv("WINDIR")
	if winDir == "" {
		winDir = `C:\Windows`
	}
	base := filepath.Join(winDir, "Microsoft.NET", "assembly")
	return []string{
		filepath.Join(base, "GAC_MSIL"),
		filepath.Join(base, "GAC_32"),
		filepath.Join(base, "GAC_64"),
	}
}
