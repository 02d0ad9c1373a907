// Package check implements the reference checker (§4.D): walking one
// assembly's outbound assembly/type/member references, calling the
// resolver, and recording diagnostics, version mismatches, and IVT
// candidates.
package check

import (
	"fmt"
	"sort"

	"binarycompat/internal/assembly"
	"binarycompat/internal/classify"
	"binarycompat/internal/clr"
	"binarycompat/internal/ivt"
	"binarycompat/internal/report"
	"binarycompat/internal/resolve"
)

// Checker runs 4.D over a sequence of loaded assemblies, accumulating state
// shared across the whole run: the unresolved-assembly suppression set and
// the pending version mismatches consumed by the redirect processor.
type Checker struct {
	resolver *resolve.Resolver
	class    *classify.Classifier
	store    *report.Store
	ivt      *ivt.Analyzer

	unresolved         map[string]struct{} // short-name -> reported once
	unresolvedFullName map[string]struct{} // referencer+full-name pairs already reported
	mismatches         []*assembly.VersionMismatch
	ignoreMismatch     bool
}

// New builds a Checker. ignoreVersionMismatch mirrors /ignoreVersionMismatch
// (§6): when set, Check still records VersionMismatches (for test/IVT
// symmetry) but never turns them into diagnostics.
func New(resolver *resolve.Resolver, class *classify.Classifier, store *report.Store, analyzer *ivt.Analyzer, ignoreVersionMismatch bool) *Checker {
	return &Checker{
		resolver:           resolver,
		class:              class,
		store:              store,
		ivt:                analyzer,
		unresolved:         make(map[string]struct{}),
		unresolvedFullName: make(map[string]struct{}),
		ignoreMismatch:     ignoreVersionMismatch,
	}
}

// Mismatches returns every VersionMismatch recorded so far, for the
// redirect processor (§4.E) to consume.
func (c *Checker) Mismatches() []*assembly.VersionMismatch { return c.mismatches }

// Check runs 4.D step 1-3 over a.
func (c *Checker) Check(a *assembly.Def) {
	for _, ref := range a.Mod.AssemblyRefs() {
		if classify.IsFrameworkName(ref.ShortName) {
			continue
		}

		resolved := c.resolver.Resolve(ref)
		if resolved == nil {
			key := a.FullName() + "|" + ref.FullName()
			if _, seen := c.unresolvedFullName[key]; !seen {
				c.unresolvedFullName[key] = struct{}{}
				c.store.Add(fmt.Sprintf("Failed to resolve assembly reference to '%s'", ref.FullName()))
			}
			c.unresolved[ref.ShortName] = struct{}{}
			continue
		}
		if c.class.IsFramework(resolved) {
			continue
		}
		c.checkAssemblyReference(a, resolved, ref)
	}

	c.checkMembers(a)
}

// checkAssemblyReference is 4.D step 2: record a version mismatch, then
// verify every type reference scoped to resolved actually exists there.
func (c *Checker) checkAssemblyReference(a, resolved *assembly.Def, ref clr.AssemblyRef) {
	if ref.Version != resolved.ID.Version {
		c.mismatches = append(c.mismatches, &assembly.VersionMismatch{
			Referencer: a,
			Expected:   ref,
			Actual:     resolved,
		})
	}

	for _, tr := range a.Mod.TypeRefs() {
		if tr.Scope.Kind != clr.ScopeAssemblyRef || !tr.Scope.AssemblyRef.Equal(ref) {
			continue
		}
		if !resolved.HasType(tr.FullName()) {
			c.store.Add(fmt.Sprintf("Failed to resolve type reference '%s' in assembly '%s'", tr.FullName(), a.FullName()))
		}
	}
}

// checkMembers is 4.D step 3: walk every type and member reference,
// skipping arrays and already-reported unresolved scopes, and hand
// successful member resolutions to the IVT analyzer.
func (c *Checker) checkMembers(a *assembly.Def) {
	for _, tr := range a.Mod.TypeRefs() {
		c.checkTypeRef(a, tr)
	}
	for _, mr := range a.Mod.MemberRefs() {
		c.checkMemberRef(a, mr)
	}
}

func (c *Checker) checkTypeRef(a *assembly.Def, tr *clr.TypeRef) {
	if isArrayTypeName(tr.Name) {
		return
	}
	scopeShort, scopeFullName, ok := c.scopeOf(tr.Scope)
	if !ok {
		return // module/nested-type scope: resolved within the same assembly, nothing to check here
	}
	if _, skip := c.unresolved[scopeShort]; skip {
		return
	}

	def := c.scopeDef(tr.Scope)
	if def == nil {
		c.store.Add(fmt.Sprintf("Failed to resolve type reference '%s' in assembly '%s'", tr.FullName(), a.FullName()))
		return
	}
	if !def.HasType(tr.FullName()) {
		if classify.IsFrameworkName(scopeShort) {
			return // framework-scoped failure: swallowed silently (§4.D step 3, §7)
		}
		c.store.Add(fmt.Sprintf("Failed to resolve type reference '%s' in assembly '%s'", tr.FullName(), scopeFullName))
		return
	}

	c.ivt.CheckType(a, def, tr.FullName())
}

func (c *Checker) checkMemberRef(a *assembly.Def, mr *clr.MemberRef) {
	if mr.Owner == nil || isArrayTypeName(mr.Owner.Name) {
		return
	}
	scopeShort, scopeFullName, ok := c.scopeOf(mr.Owner.Scope)
	if !ok {
		return
	}
	if _, skip := c.unresolved[scopeShort]; skip {
		return
	}

	def := c.scopeDef(mr.Owner.Scope)
	if def == nil {
		c.store.Add(fmt.Sprintf("Failed to resolve member reference '%s' in assembly '%s'", mr.FullName(), scopeFullName))
		return
	}
	if !c.memberExists(def, mr) {
		if classify.IsFrameworkName(scopeShort) {
			return
		}
		c.store.Add(fmt.Sprintf("Failed to resolve member reference '%s' in assembly '%s'", mr.FullName(), scopeFullName))
		return
	}

	c.ivt.CheckMember(a, def, mr)
}

func (c *Checker) memberExists(def *assembly.Def, mr *clr.MemberRef) bool {
	for _, td := range def.Mod.TypeDefs() {
		if td.FullName() != mr.Owner.FullName() {
			continue
		}
		for _, f := range td.Fields {
			if f.Name == mr.Name {
				return true
			}
		}
		for _, m := range td.Methods {
			if m.Name == mr.Name {
				return true
			}
		}
		return false
	}
	return false
}

// scopeOf extracts the assembly-ref short/full name a TypeRef scope points
// to, or ok=false for module/nested-type scopes (resolved in-assembly,
// outside 4.D's concern).
func (c *Checker) scopeOf(s clr.Scope) (short, full string, ok bool) {
	if s.Kind != clr.ScopeAssemblyRef {
		return "", "", false
	}
	return s.AssemblyRef.ShortName, s.AssemblyRef.FullName(), true
}

func (c *Checker) scopeDef(s clr.Scope) *assembly.Def {
	if s.Kind != clr.ScopeAssemblyRef {
		return nil
	}
	return c.resolver.Resolve(s.AssemblyRef)
}

func isArrayTypeName(name string) bool {
	return len(name) > 0 && (name[len(name)-1] == ']')
}

// SortedMismatches returns unhandled, non-ignored version mismatches in a
// deterministic order, for report emission.
func (c *Checker) SortedMismatches() []*assembly.VersionMismatch {
	var out []*assembly.VersionMismatch
	for _, m := range c.mismatches {
		if c.ignoreMismatch || m.Handled() {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return mismatchLine(out[i]) < mismatchLine(out[j])
	})
	return out
}

func mismatchLine(m *assembly.VersionMismatch) string {
	return fmt.Sprintf("Version mismatch: assembly '%s' references '%s' but found '%s'",
		m.Referencer.FullName(), m.Expected.FullName(), m.Actual.FullName())
}

// EmitMismatches appends each surviving VersionMismatch to store (called
// after the redirect processor has had a chance to mark some as handled).
func (c *Checker) EmitMismatches() {
	for _, m := range c.SortedMismatches() {
		c.store.Add(mismatchLine(m))
	}
}
