package resolve_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binarycompat/internal/classify"
	"binarycompat/internal/clrfixture"
	"binarycompat/internal/identity"
	"binarycompat/internal/loader"
	"binarycompat/internal/report"
	"binarycompat/internal/resolve"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, dir, name string, spec clrfixture.Spec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, clrfixture.Build(spec), 0o644))
	return path
}

func libSpec(name string) clrfixture.Spec {
	return clrfixture.Spec{Name: name, Version: [4]uint16{1, 0, 0, 0}}
}

func newResolver(t *testing.T, opts resolve.Options) (*resolve.Resolver, *loader.Loader, *report.Store) {
	t.Helper()
	class := classify.New()
	ld := loader.New(discardLogger(), class, false)
	store := report.NewStore()
	return resolve.New(ld, class, store, discardLogger(), opts), ld, store
}

func TestResolveStrategyOneStrictLoaded(t *testing.T) {
	dir := t.TempDir()
	depPath := writeFixture(t, dir, "Dep.dll", libSpec("Dep"))

	r, ld, store := newResolver(t, resolve.Options{})
	loaded := ld.Load(depPath, store)
	require.NotNil(t, loaded)

	ref := identity.AssemblyRef{ShortName: "Dep", Version: identity.Version{Major: 1}}
	got := r.Resolve(ref)
	require.NotNil(t, got)
	assert.Equal(t, depPath, got.Path)
}

func TestResolveStrategyTwoInputSet(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Dep.dll", libSpec("Dep"))
	inputFile := filepath.Join(dir, "Dep.dll")

	r, _, _ := newResolver(t, resolve.Options{InputFiles: []string{inputFile}})

	ref := identity.AssemblyRef{ShortName: "Dep", Version: identity.Version{Major: 1}}
	got := r.Resolve(ref)
	require.NotNil(t, got)
	assert.Equal(t, "Dep", got.ID.ShortName)
}

func TestResolveStrategyFourCustomDir(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Dep.dll", libSpec("Dep"))

	r, _, _ := newResolver(t, resolve.Options{CustomDirs: []string{dir}})

	ref := identity.AssemblyRef{ShortName: "Dep", Version: identity.Version{Major: 1}}
	got := r.Resolve(ref)
	require.NotNil(t, got)
	assert.Equal(t, "Dep", got.ID.ShortName)
}

func TestResolveStrategyFiveLooseLoaded(t *testing.T) {
	dir := t.TempDir()
	depPath := writeFixture(t, dir, "Dep.dll", libSpec("Dep"))

	r, ld, store := newResolver(t, resolve.Options{})
	loaded := ld.Load(depPath, store)
	require.NotNil(t, loaded)

	// Same short-name, different version: strict match (strategy 1) fails,
	// loose short-name-only match (strategy 5) still succeeds.
	ref := identity.AssemblyRef{ShortName: "Dep", Version: identity.Version{Major: 9}}
	got := r.Resolve(ref)
	require.NotNil(t, got)
	assert.Equal(t, depPath, got.Path)
}

func TestResolveReturnsNilWhenNothingMatches(t *testing.T) {
	r, _, _ := newResolver(t, resolve.Options{})

	ref := identity.AssemblyRef{ShortName: "Nowhere", Version: identity.Version{Major: 1}}
	assert.Nil(t, r.Resolve(ref))
}

func TestResolveMemoizesByFullName(t *testing.T) {
	dir := t.TempDir()
	depPath := writeFixture(t, dir, "Dep.dll", libSpec("Dep"))

	r, ld, store := newResolver(t, resolve.Options{})
	require.NotNil(t, ld.Load(depPath, store))

	ref := identity.AssemblyRef{ShortName: "Dep", Version: identity.Version{Major: 1}}
	first := r.Resolve(ref)
	second := r.Resolve(ref)
	assert.Same(t, first, second)
}

func TestFrameworkRedirectsHighest(t *testing.T) {
	fr := resolve.DefaultFrameworkRedirects()
	v, ok := fr.Highest("Microsoft.VisualBasic")
	require.True(t, ok)
	assert.Equal(t, uint16(10), v.Major)

	_, ok = fr.Highest("Unknown.Thing")
	assert.False(t, ok)
}
