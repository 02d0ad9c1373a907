// Package ivt implements the InternalsVisibleTo analyzer (§4.G): recording
// a permitted cross-assembly access to an internal member or type, and
// rendering the two IVT reports.
package ivt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"binarycompat/internal/assembly"
	"binarycompat/internal/clr"
)

// Analyzer accumulates IVTUsage records as the checker walks resolved
// member/type references.
type Analyzer struct {
	enabled bool
	usages  []assembly.IVTUsage
}

// New returns an Analyzer. When enabled is false, Check* calls are no-ops
// (the checker still calls them unconditionally; skipping the flag check at
// every call site would duplicate the /ivt gate throughout the checker).
func New(enabled bool) *Analyzer {
	return &Analyzer{enabled: enabled}
}

// CheckMember records an IVTUsage if mr resolves to an internal member (or
// a member of an internal type) in declaring, and consumer's short-name
// is a permitted friend.
func (a *Analyzer) CheckMember(consumer, declaring *assembly.Def, mr *clr.MemberRef) {
	if !a.enabled || consumer == declaring {
		return
	}
	for _, td := range declaring.Mod.TypeDefs() {
		if td.FullName() != mr.Owner.FullName() {
			continue
		}
		internal := td.IsInternal()
		if !internal {
			for _, f := range td.Fields {
				if f.Name == mr.Name && f.IsInternal() {
					internal = true
				}
			}
			for _, m := range td.Methods {
				if m.Name == mr.Name && m.IsInternal() {
					internal = true
				}
			}
		}
		if !internal {
			return
		}
		a.recordIfFriend(consumer, declaring, mr.FullName())
		return
	}
}

// CheckType records an IVTUsage if typeName resolves to an internal type in
// declaring and consumer is a permitted friend.
func (a *Analyzer) CheckType(consumer, declaring *assembly.Def, typeName string) {
	if !a.enabled || consumer == declaring {
		return
	}
	for _, td := range declaring.Mod.TypeDefs() {
		if td.FullName() == typeName && td.IsInternal() {
			a.recordIfFriend(consumer, declaring, typeName)
			return
		}
	}
}

func (a *Analyzer) recordIfFriend(consumer, declaring *assembly.Def, member string) {
	for _, friend := range declaring.Mod.InternalsVisibleTo() {
		if !strings.EqualFold(friend.ShortName, consumer.ID.ShortName) {
			continue
		}
		if len(friend.PublicKeyToken) > 0 && !bytes.Equal(friend.PublicKeyToken, consumer.ID.PublicKeyToken) {
			continue
		}
		a.usages = append(a.usages, assembly.IVTUsage{
			Exposer:  declaring.ID.ShortName,
			Consumer: consumer.ID.ShortName,
			Member:   member,
		})
		return
	}
}

func formatUsage(u assembly.IVTUsage) string {
	return fmt.Sprintf("%s -> %s: %s", u.Consumer, u.Exposer, u.Member)
}

// Sorted returns every recorded usage, ordered by (exposer, consumer, member)
// (§12.4: both IVT reports sort by exposing-assembly, then consuming-assembly,
// then member, independent of the "consumer -> exposer" text each line renders
// as).
func (a *Analyzer) Sorted() []assembly.IVTUsage {
	out := append([]assembly.IVTUsage(nil), a.usages...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exposer != out[j].Exposer {
			return out[i].Exposer < out[j].Exposer
		}
		if out[i].Consumer != out[j].Consumer {
			return out[i].Consumer < out[j].Consumer
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// Render produces the full IVT report text (§4.G: "{report-file}.ivt.txt").
func Render(usages []assembly.IVTUsage) string {
	var b strings.Builder
	for _, u := range usages {
		b.WriteString(formatUsage(u))
		b.WriteByte('\n')
	}
	return b.String()
}

// isExposer reports whether short names an assembly whose IVT exposures are
// the Roslyn-report filter's subject (§4.G: "exposer name contains
// Microsoft.CodeAnalysis or VisualStudio.LanguageServices").
func isExposer(short string) bool {
	return strings.Contains(short, "Microsoft.CodeAnalysis") || strings.Contains(short, "VisualStudio.LanguageServices")
}

// RenderRoslyn produces the filtered report (§4.G: "{report-file}.ivt.roslyn.txt"),
// keeping only usages where the exposer matches isExposer and the consumer
// does not.
func RenderRoslyn(usages []assembly.IVTUsage) string {
	var filtered []assembly.IVTUsage
	for _, u := range usages {
		if isExposer(u.Exposer) && !isExposer(u.Consumer) {
			filtered = append(filtered, u)
		}
	}
	return Render(filtered)
}
