// Package redirect implements the config-redirect processor (§4.E):
// parsing app.config-style binding-redirect XML and marking pending
// VersionMismatches as handled.
package redirect

import (
	"encoding/hex"
	"encoding/xml"
	"os"
	"strings"

	"binarycompat/internal/assembly"
	"binarycompat/internal/identity"
)

// configFile mirrors the subset of the standard binding-redirect schema
// (§6 "Application configuration file format") this processor reads.
type configFile struct {
	XMLName        xml.Name `xml:"configuration"`
	RuntimeSection struct {
		AssemblyBinding struct {
			Dependents []dependentAssembly `xml:"dependentAssembly"`
		} `xml:"assemblyBinding"`
	} `xml:"runtime"`
}

type dependentAssembly struct {
	Identity struct {
		Name           string `xml:"name,attr"`
		PublicKeyToken string `xml:"publicKeyToken,attr"`
		Culture        string `xml:"culture,attr"`
	} `xml:"assemblyIdentity"`
	Redirects []bindingRedirect `xml:"bindingRedirect"`
}

type bindingRedirect struct {
	OldVersion string `xml:"oldVersion,attr"`
	NewVersion string `xml:"newVersion,attr"`
}

// Redirect is one parsed <dependentAssembly> entry, flattened with its
// single relevant <bindingRedirect> (§4.E extracts one range/new-version
// pair per identity; a config with several bindingRedirect elements per
// identity yields one Redirect per element).
type Redirect struct {
	Name           string
	PublicKeyToken []byte
	Culture        string
	OldRange       identity.Range
	NewVersion     identity.Version
}

// Parse reads and decodes path into its Redirect entries. A missing or
// unparsable config file yields (nil, nil): the processor treats "no
// redirects here" the same as "this reference had none to offer" rather
// than failing the whole run over an absent .config file.
func Parse(path string) ([]Redirect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cfg configFile
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, nil
	}

	var out []Redirect
	for _, dep := range cfg.RuntimeSection.AssemblyBinding.Dependents {
		token, _ := decodeHexToken(dep.Identity.PublicKeyToken)
		for _, br := range dep.Redirects {
			oldRange, err := identity.ParseRange(br.OldVersion)
			if err != nil {
				continue
			}
			newVersion, err := identity.ParseVersion(br.NewVersion)
			if err != nil {
				continue
			}
			out = append(out, Redirect{
				Name:           dep.Identity.Name,
				PublicKeyToken: token,
				Culture:        dep.Identity.Culture,
				OldRange:       oldRange,
				NewVersion:     newVersion,
			})
		}
	}
	return out, nil
}

func decodeHexToken(s string) ([]byte, bool) {
	if s == "" || strings.EqualFold(s, "null") {
		return nil, true
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Apply matches each pending mismatch's expected identity against redirects
// parsed from configPath and marks it handled (§4.E): the referencer's own
// conventional config path equals configPath AND identity match (short-name
// case-insensitive, token/culture equal) AND expected.version falls in the
// redirect's OldRange AND the resolved actual version equals NewVersion. A
// mismatch belonging to some other referencer is never handled by this
// config, even if its identity happens to match one of its redirects.
func Apply(configPath string, redirects []Redirect, mismatches []*assembly.VersionMismatch) {
	for _, m := range mismatches {
		if assembly.ConfigFileFor(m.Referencer.Path) != configPath {
			continue
		}
		for _, r := range redirects {
			if !strings.EqualFold(r.Name, m.Expected.ShortName) {
				continue
			}
			if !cultureMatches(r.Culture, m.Expected.Culture) {
				continue
			}
			if len(r.PublicKeyToken) > 0 && !tokenEqual(r.PublicKeyToken, m.Expected.PublicKeyToken) {
				continue
			}
			if !r.OldRange.Contains(m.Expected.Version) {
				continue
			}
			if r.NewVersion != m.Actual.ID.Version {
				continue
			}
			m.MarkHandled(configPath)
		}
	}
}

func cultureMatches(a, b string) bool {
	norm := func(s string) string {
		if strings.EqualFold(s, "neutral") {
			return ""
		}
		return strings.ToLower(s)
	}
	return norm(a) == norm(b)
}

func tokenEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
