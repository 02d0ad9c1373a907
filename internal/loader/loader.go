// Package loader implements the metadata loader (§4.A): opening a file,
// detecting managed metadata, and producing a memoized AssemblyDef.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"binarycompat/internal/assembly"
	"binarycompat/internal/classify"
	"binarycompat/internal/clr"
	"binarycompat/internal/report"
)

// Loader loads and memoizes AssemblyDefs by path (§3 invariant: "Each file
// path resolves to at most one AssemblyDef for the process lifetime").
type Loader struct {
	mu    sync.Mutex
	byPath map[string]*assembly.Def // memo; absent key = not attempted, present+nil = attempted and failed/non-managed
	log   *slog.Logger
	class *classify.Classifier

	// Examined is the side-channel list of non-framework assemblies loaded,
	// one entry per distinct path, appended in load order and sorted on
	// emission by the caller (§4.A side effects).
	Examined []report.ExaminedEntry

	caseFold func(string) string // filesystem case-sensitivity policy (§7 DESIGN NOTES)
}

// New builds a Loader. caseInsensitive should reflect the host filesystem
// (Windows: true); it governs path-memo key folding only.
func New(log *slog.Logger, class *classify.Classifier, caseInsensitive bool) *Loader {
	fold := func(s string) string { return s }
	if caseInsensitive {
		fold = strings.ToLower
	}
	return &Loader{
		byPath:   make(map[string]*assembly.Def),
		log:      log,
		class:    class,
		caseFold: fold,
	}
}

// Load opens path, returning nil (no error) if it is absent, unreadable, or
// not a managed assembly. On a metadata-read failure it records a
// diagnostic into store and returns nil. Successful loads are memoized.
func (l *Loader) Load(path string, store *report.Store) *assembly.Def {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	key := l.caseFold(abs)

	l.mu.Lock()
	if def, ok := l.byPath[key]; ok {
		l.mu.Unlock()
		return def
	}
	l.mu.Unlock()

	def := l.load(abs, store)

	l.mu.Lock()
	l.byPath[key] = def
	if def != nil && !l.class.IsFramework(def) {
		l.Examined = append(l.Examined, report.ExaminedEntry{
			Path:    displayPath(def.Path),
			Version: def.ID.Version.String(),
		})
	}
	l.mu.Unlock()

	return def
}

// displayPath renders abs relative to the process's current working
// directory for the examined-assemblies report section (§4.A: "appends an
// examined assemblies entry {relative-path}..."). The report is compared
// byte-for-byte against a checked-in baseline (§4.F), so an absolute path —
// which embeds the checkout/build directory — would make the baseline
// diverge between machines even with identical inputs; def.Path itself stays
// absolute for actual file I/O (config lookup, re-opening).
func displayPath(abs string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (l *Loader) load(path string, store *report.Store) *assembly.Def {
	mod, id, managed, err := clr.Load(path)
	if err != nil && !managed {
		// The file could not be read at all (absent or unreadable): a null
		// result, not a LoadFailure, so no diagnostic.
		l.log.Debug("cannot read file", "path", path, "error", err)
		return nil
	}
	if err != nil {
		store.Add(fmt.Sprintf("Failed to load assembly '%s': %v", path, err))
		l.log.Warn("assembly load failed", "path", path, "error", err)
		return nil
	}
	if !managed {
		l.log.Debug("not a managed assembly", "path", path)
		return nil
	}
	l.log.Debug("loaded assembly", "path", path, "name", id.FullName())
	return &assembly.Def{ID: id, Path: path, Mod: mod}
}

// Loaded returns every successfully loaded AssemblyDef, in map iteration
// order (not load order; the order is not defined). Used
// by the resolver's strategy-1/strategy-5 "already loaded" search.
func (l *Loader) Loaded() []*assembly.Def {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*assembly.Def, 0, len(l.byPath))
	for _, d := range l.byPath {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// DefaultCaseInsensitive reports the host's default filesystem case policy.
func DefaultCaseInsensitive() bool {
	return runtime.GOOS == "windows"
}
