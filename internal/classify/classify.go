// Package classify implements the framework/facade classifier (§4.B):
// deciding whether an assembly is a platform-runtime assembly excluded from
// reference analysis, or a type-forwarder-only facade.
package classify

import (
	"strings"
	"sync"

	"binarycompat/internal/assembly"
)

// frameworkShortNames is the fixed set from §4.B, lower-cased for
// case-insensitive membership tests.
var frameworkShortNames = map[string]struct{}{
	"mscorlib":                {},
	"netstandard":             {},
	"system":                  {},
	"accessibility":           {},
	"microsoft.csharp":        {},
	"microsoft.visualbasic":   {},
	"presentationcore":        {},
	"presentationframework":   {},
	"reachframework":          {},
	"windowsbase":             {},
	"windowsformsintegration": {},
	"windowsce.forms":         {},
	"microsoft.visualc":       {},
	"uiautomationclient":      {},
	"uiautomationclientsideproviders": {},
	"uiautomationcore":                {},
	"uiautomationprovider":            {},
	"uiautomationtypes":               {},
}

// IsFrameworkName reports whether short is, by name alone, the kind of
// short-name the framework search strategy (§4.C strategy 3) and the ignore
// set (§4.D step 1) key off of — without needing to have loaded the
// assembly.
func IsFrameworkName(short string) bool {
	lower := strings.ToLower(short)
	if _, ok := frameworkShortNames[lower]; ok {
		return true
	}
	return strings.HasPrefix(lower, "system.")
}

// Classifier memoizes IsFramework/IsFacade by file path (§3 invariant:
// "Framework classification for a given file path is stable across
// queries").
type Classifier struct {
	mu         sync.Mutex
	frameworks map[string]bool
	facades    map[string]bool
}

// New returns a ready-to-use Classifier.
func New() *Classifier {
	return &Classifier{
		frameworks: make(map[string]bool),
		facades:    make(map[string]bool),
	}
}

// IsFramework reports whether def is a platform/runtime assembly (§4.B).
func (c *Classifier) IsFramework(def *assembly.Def) bool {
	c.mu.Lock()
	if v, ok := c.frameworks[def.Path]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := IsFrameworkName(def.ID.ShortName) || c.hasFrameworkProductAttribute(def)

	c.mu.Lock()
	c.frameworks[def.Path] = v
	c.mu.Unlock()
	return v
}

func (c *Classifier) hasFrameworkProductAttribute(def *assembly.Def) bool {
	for _, ca := range def.Mod.CustomAttributes() {
		switch ca.TypeName {
		case "System.Reflection.AssemblyProductAttribute":
			if len(ca.Args) > 0 {
				switch ca.Args[0] {
				case "Microsoft® .NET Framework", "Microsoft® .NET":
					return true
				}
			}
		case "System.Reflection.AssemblyMetadataAttribute":
			if len(ca.Args) > 0 && ca.Args[0] == ".NETFrameworkAssembly" {
				return true
			}
		}
	}
	return false
}

// IsFacade reports whether def has exactly one concrete "<Module>" type and
// one or more exported (forwarded) types (§4.B).
func (c *Classifier) IsFacade(def *assembly.Def) bool {
	c.mu.Lock()
	if v, ok := c.facades[def.Path]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := def.IsConcreteFacadeCandidate()

	c.mu.Lock()
	c.facades[def.Path] = v
	c.mu.Unlock()
	return v
}
