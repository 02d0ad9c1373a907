// Package assembly holds the loaded-assembly view (§3 AssemblyDef) and the
// handful of cross-cutting records (VersionMismatch, IVTUsage, TypeKey) that
// the resolver, checker, and redirect processor pass between each other.
package assembly

import (
	"strings"
	"sync"

	"binarycompat/internal/clr"
	"binarycompat/internal/identity"
)

// Def is a loaded assembly: its identity, the file it came from, and its
// module's metadata view (§3 AssemblyDef).
type Def struct {
	ID   identity.AssemblyID
	Path string // origin file path, as given on the command line/discovered
	Mod  clr.Module

	typeNamesOnce sync.Once
	typeNames     map[string]struct{} // per-assembly type-existence cache keyed by full type name (§4.D step 2)
}

// FullName is the identity's .NET-style display name.
func (d *Def) FullName() string { return d.ID.FullName() }

// HasType reports whether full (namespace-qualified) type name exists as a
// concrete TypeDef in this assembly, building the existence set lazily on
// first use and caching it for the assembly's lifetime (§4.D: "using a
// per-assembly type-name set built on first use").
func (d *Def) HasType(fullName string) bool {
	d.typeNamesOnce.Do(func() {
		d.typeNames = make(map[string]struct{}, len(d.Mod.TypeDefs()))
		for _, td := range d.Mod.TypeDefs() {
			d.typeNames[td.FullName()] = struct{}{}
		}
	})
	_, ok := d.typeNames[fullName]
	return ok
}

// IsConcreteFacadeCandidate reports whether this assembly has exactly one
// concrete type named "<Module>" and at least one exported (forwarded)
// type — the facade shape of §4.B.
func (d *Def) IsConcreteFacadeCandidate() bool {
	concrete := 0
	onlyModule := true
	for _, td := range d.Mod.TypeDefs() {
		concrete++
		if td.FullName() != "<Module>" {
			onlyModule = false
		}
	}
	return concrete >= 1 && onlyModule && len(d.Mod.ExportedTypes()) > 0
}

// VersionMismatch records that a referencer expected one version of an
// assembly but the resolver located another (§3). HandledBy is filled in by
// the config-redirect processor (§4.E); a non-empty HandledBy suppresses
// the diagnostic.
type VersionMismatch struct {
	Referencer *Def
	Expected   identity.AssemblyRef
	Actual     *Def
	HandledBy  map[string]struct{}
}

// Handled reports whether some config file's binding redirect covers this
// mismatch.
func (v *VersionMismatch) Handled() bool { return len(v.HandledBy) > 0 }

// MarkHandled records that configPath's bindingRedirect covers this
// mismatch.
func (v *VersionMismatch) MarkHandled(configPath string) {
	if v.HandledBy == nil {
		v.HandledBy = make(map[string]struct{})
	}
	v.HandledBy[configPath] = struct{}{}
}

// IVTUsage records one permitted cross-assembly access to an internal
// member via a declared InternalsVisibleTo friend relationship (§3, §4.G).
type IVTUsage struct {
	Exposer  string // declaring assembly short name
	Consumer string // consuming assembly short name
	Member   string // signature-ish string, e.g. "Namespace.Type.Member"
}

// TypeKey pairs an assembly short name with a type's full name (§3). Def's
// type-existence cache is keyed by full name alone and does not use it.
type TypeKey struct {
	AssemblyShortName string
	FullName          string
}

// ConfigFileFor returns the conventional "<base>.exe.config"/"<base>.dll.config"
// path for an assembly's origin file (§4.E).
func ConfigFileFor(path string) string {
	return path + ".config"
}

// BaseName strips the directory part ('/' or '\' separated) of path and
// returns the file name with its extension and case unchanged.
func BaseName(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		path = path[idx+1:]
	}
	return path
}
