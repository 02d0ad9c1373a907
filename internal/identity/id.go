package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AssemblyID is the symbolic (short-name, version, culture, public-key-token)
// tuple that names an assembly. Equality is full-tuple; short-name comparison
// is case-insensitive (Equal and EqualShortName handle this; do not compare
// the ShortName fields directly with ==).
type AssemblyID struct {
	ShortName      string
	Version        Version
	Culture        string // "" means neutral
	PublicKeyToken []byte // nil means "none specified"
}

// AssemblyRef is an AssemblyID as it appears in some module's reference
// table. Immutable once the referencing assembly is loaded.
type AssemblyRef = AssemblyID

// Equal is the strict, full-tuple equality used by strategy 1 of the
// resolver (§4.C) and by the loader/resolver memoization invariants.
func (a AssemblyID) Equal(o AssemblyID) bool {
	return strings.EqualFold(a.ShortName, o.ShortName) &&
		a.Version == o.Version &&
		cultureEqual(a.Culture, o.Culture) &&
		bytes.Equal(a.PublicKeyToken, o.PublicKeyToken)
}

// EqualShortName is the loose match used by strategy 5 (last-resort loaded
// match) and by framework short-name set membership tests.
func (a AssemblyID) EqualShortName(o AssemblyID) bool {
	return strings.EqualFold(a.ShortName, o.ShortName)
}

func cultureEqual(a, b string) bool {
	norm := func(s string) string {
		if strings.EqualFold(s, "neutral") {
			return ""
		}
		return strings.ToLower(s)
	}
	return norm(a) == norm(b)
}

// FullName renders the .NET-style display name used throughout diagnostic
// text: "Name, Version=x.y.z.w, Culture=neutral, PublicKeyToken=null".
func (a AssemblyID) FullName() string {
	culture := a.Culture
	if culture == "" {
		culture = "neutral"
	}
	token := "null"
	if len(a.PublicKeyToken) > 0 {
		token = hex.EncodeToString(a.PublicKeyToken)
	}
	return fmt.Sprintf("%s, Version=%s, Culture=%s, PublicKeyToken=%s", a.ShortName, a.Version, culture, token)
}

func (a AssemblyID) String() string { return a.FullName() }
