package loader_test

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
	"binarycompat/internal/loader"
	"binarycompat/internal/report"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, name string, spec clrfixture.Spec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, clrfixture.Build(spec), 0o644))
	return path
}

func libSpec(name string) clrfixture.Spec {
	return clrfixture.Spec{Name: name, Version: [4]uint16{1, 0, 0, 0}}
}

func TestLoadMemoizesByPath(t *testing.T) {
	path := writeFixture(t, "App.dll", libSpec("App"))
	ld := loader.New(discardLogger(), classify.New(), false)
	store := report.NewStore()

	first := ld.Load(path, store)
	require.NotNil(t, first)
	second := ld.Load(path, store)
	assert.Same(t, first, second)
}

func TestLoadNonManagedFileReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	ld := loader.New(discardLogger(), classify.New(), false)
	store := report.NewStore()

	assert.Nil(t, ld.Load(path, store))
	assert.Zero(t, store.Len())
}

func TestLoadMissingFileReturnsNilWithoutDiagnostic(t *testing.T) {
	ld := loader.New(discardLogger(), classify.New(), false)
	store := report.NewStore()

	assert.Nil(t, ld.Load(filepath.Join(t.TempDir(), "gone.dll"), store))
	assert.Zero(t, store.Len())
}

func TestLoadedReturnsSuccessfulLoadsOnly(t *testing.T) {
	good := writeFixture(t, "Good.dll", libSpec("Good"))
	bad := filepath.Join(t.TempDir(), "missing.dll")

	ld := loader.New(discardLogger(), classify.New(), false)
	store := report.NewStore()
	ld.Load(good, store)
	ld.Load(bad, store)

	loaded := ld.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "Good", loaded[0].ID.ShortName)
}

func TestExaminedExcludesFrameworkAssemblies(t *testing.T) {
	mscorlib := writeFixture(t, "mscorlib.dll", libSpec("mscorlib"))
	app := writeFixture(t, "App.dll", libSpec("App"))

	ld := loader.New(discardLogger(), classify.New(), false)
	store := report.NewStore()
	ld.Load(mscorlib, store)
	ld.Load(app, store)

	require.Len(t, ld.Examined, 1)
	// Examined entries carry the path relative to the working directory.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	want, err := filepath.Rel(cwd, app)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(want), ld.Examined[0].Path)
}

func TestCaseInsensitiveMemoFoldsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "App.dll")
	require.NoError(t, os.WriteFile(path, clrfixture.Build(libSpec("App")), 0o644))
	// A distinct on-disk file whose name differs from path only in case, so
	// a case-folded memo key collides with the first entry's key even
	// though Linux sees them as two different paths.
	altPath := filepath.Join(dir, "APP.DLL")
	require.NoError(t, os.WriteFile(altPath, clrfixture.Build(libSpec("DifferentContent")), 0o644))

	ld := loader.New(discardLogger(), classify.New(), true)
	store := report.NewStore()

	first := ld.Load(path, store)
	require.NotNil(t, first)
	assert.Equal(t, "App", first.ID.ShortName)

	second := ld.Load(altPath, store)
	require.NotNil(t, second)
	assert.Equal(t, "App", second.ID.ShortName, "case-folded memo key should short-circuit the second disk read")
}
