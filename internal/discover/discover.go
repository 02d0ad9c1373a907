// Package discover expands the driver's positional command-line arguments
// (directories, files, and glob patterns, with "!"-prefixed exclusions)
// into a concrete, sorted list of candidate assembly/config file paths
// (§4.H input handling, §6 EXTERNAL INTERFACES).
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultFilePatterns is the "/p:" default (§6): dll/exe binaries plus their
// config files.
func DefaultFilePatterns() []string {
	return []string{"*.dll", "*.exe", "*.dll.config", "*.exe.config"}
}

// DefaultExcludePatterns is the always-on exclusion (§6): generated
// satellite resource assemblies.
func DefaultExcludePatterns() []string {
	return []string{"*.resources.dll"}
}

// Options configures Discover.
type Options struct {
	// Includes holds positional inclusion tokens as given on the command
	// line: directories, files, or ";"-separated glob-pattern lists.
	Includes []string
	// Excludes holds "!"-prefixed exclusion tokens, with the "!" already
	// stripped by the CLI parser.
	Excludes []string
	// FilePatterns is the "/p:" value, already ";"-split; nil means
	// DefaultFilePatterns().
	FilePatterns []string
	// CaseInsensitive should reflect the host filesystem (§6: "case-insensitive
	// on Windows hosts, case-sensitive elsewhere").
	CaseInsensitive bool
}

// Discover expands opts into a de-duplicated, sorted list of absolute file
// paths. Unreadable directories and non-matching tokens are skipped, not
// errored — mirroring the loader's "absent/unreadable -> null" tolerance
// rather than aborting a whole run over one bad path.
func Discover(opts Options) ([]string, error) {
	patterns := opts.FilePatterns
	if len(patterns) == 0 {
		patterns = DefaultFilePatterns()
	}
	recursive := containsRecursive(opts.Includes) || containsRecursive(patterns)

	excludeLines := append(append([]string{}, DefaultExcludePatterns()...), opts.Excludes...)
	gi := ignore.CompileIgnoreLines(excludeLines...)

	fold := func(s string) string { return s }
	if opts.CaseInsensitive {
		fold = strings.ToLower
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if gi.MatchesPath(filepath.Base(abs)) {
			return
		}
		key := fold(abs)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, abs)
	}

	for _, inc := range opts.Includes {
		for _, token := range strings.Split(inc, ";") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if err := expandToken(token, patterns, recursive, add); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

func expandToken(token string, patterns []string, recursive bool, add func(string)) error {
	info, err := os.Stat(token)
	switch {
	case err == nil && info.IsDir():
		return walkDir(token, patterns, recursive, add)
	case err == nil:
		add(token)
		return nil
	case isGlobToken(token):
		matches, gerr := doublestar.FilepathGlob(token)
		if gerr != nil {
			return gerr
		}
		for _, m := range matches {
			if fi, serr := os.Stat(m); serr == nil && fi.IsDir() {
				continue // "**" also matches directories; only files are candidates
			}
			add(m)
		}
		return nil
	default:
		return nil // neither a real path nor a glob; skip rather than fail the whole run
	}
}

func walkDir(root string, patterns []string, recursive bool, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesPatterns(d.Name(), patterns) {
			add(path)
		}
		return nil
	})
}

func matchesPatterns(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}

func isGlobToken(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func containsRecursive(list []string) bool {
	for _, s := range list {
		if strings.Contains(s, "**") {
			return true
		}
	}
	return false
}
