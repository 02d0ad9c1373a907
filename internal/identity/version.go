// Package identity defines the symbolic identity of a managed assembly:
// the four-part version, and the (name, version, culture, public-key-token)
// tuple that every reference and every loaded assembly is keyed by.
package identity

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a four-part assembly version, compared field by field.
type Version struct {
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16
}

// Zero is the wildcard version used by framework redirect matching.
var Zero = Version{}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	for _, pair := range [][2]uint16{
		{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Build, o.Build}, {v.Revision, o.Revision},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LessEqual reports whether v <= o.
func (v Version) LessEqual(o Version) bool { return v.Compare(o) <= 0 }

// IsZero reports whether v is the 0.0.0.0 wildcard version.
func (v Version) IsZero() bool { return v == Zero }

// ParseVersion parses a "major.minor.build.revision" string. Missing trailing
// components default to zero, matching .NET's lenient AssemblyName parsing.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return Version{}, fmt.Errorf("identity: invalid version %q", s)
	}
	var nums [4]uint16
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("identity: invalid version %q: %w", s, err)
		}
		nums[i] = uint16(n)
	}
	return Version{Major: nums[0], Minor: nums[1], Build: nums[2], Revision: nums[3]}, nil
}

// Range is an inclusive old-version range as found in a bindingRedirect
// oldVersion="lo-hi" attribute.
type Range struct {
	Low, High Version
}

// ParseRange parses "lo-hi" or a bare "v" (meaning lo==hi==v).
func ParseRange(s string) (Range, error) {
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		loV, err := ParseVersion(lo)
		if err != nil {
			return Range{}, err
		}
		hiV, err := ParseVersion(hi)
		if err != nil {
			return Range{}, err
		}
		return Range{Low: loV, High: hiV}, nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Range{}, err
	}
	return Range{Low: v, High: v}, nil
}

// Contains reports whether v falls within the inclusive range.
func (r Range) Contains(v Version) bool {
	return r.Low.Compare(v) <= 0 && v.Compare(r.High) <= 0
}
