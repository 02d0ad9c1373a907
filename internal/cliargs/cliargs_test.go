package cliargs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binarycompat/internal/cliargs"
)

func TestParseDefaults(t *testing.T) {
	args, err := cliargs.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, cliargs.DefaultReportPath, args.OutPath)
	assert.False(t, args.ListAssemblies)
	assert.False(t, args.Help)
}

func TestParsePositionalIncludes(t *testing.T) {
	args, err := cliargs.Parse([]string{"bin/", "lib/*.dll"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/", "lib/*.dll"}, args.Includes)
}

func TestParseExclusionPrefix(t *testing.T) {
	args, err := cliargs.Parse([]string{"bin/", "!bin/vendor/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/"}, args.Includes)
	assert.Equal(t, []string{"bin/vendor/**"}, args.Excludes)
}

func TestParseEmptyExclusionIsError(t *testing.T) {
	_, err := cliargs.Parse([]string{"!"})
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	args, err := cliargs.Parse([]string{
		"/out:report.txt", "/p:*.dll;*.exe", "/l", "/ivt",
		"/ignoreVersionMismatch", "/embeddedInteropTypes", "/intPtrCtors",
	})
	require.NoError(t, err)
	assert.Equal(t, "report.txt", args.OutPath)
	assert.Equal(t, []string{"*.dll", "*.exe"}, args.Patterns)
	assert.True(t, args.ListAssemblies)
	assert.True(t, args.IVT)
	assert.True(t, args.IgnoreVersionMismatch)
	assert.True(t, args.EmbeddedInteropTypes)
	assert.True(t, args.IntPtrCtors)
}

func TestParseFlagsAreCaseInsensitive(t *testing.T) {
	args, err := cliargs.Parse([]string{"/OUT:report.txt", "/L"})
	require.NoError(t, err)
	assert.Equal(t, "report.txt", args.OutPath)
	assert.True(t, args.ListAssemblies)
}

func TestParseOutRequiresValue(t *testing.T) {
	_, err := cliargs.Parse([]string{"/out:"})
	assert.Error(t, err)
	_, err = cliargs.Parse([]string{"/out"})
	assert.Error(t, err)
}

func TestParseUnrecognizedFlagIsError(t *testing.T) {
	_, err := cliargs.Parse([]string{"/bogus"})
	assert.Error(t, err)
}

func TestParseVerboseAndQuiet(t *testing.T) {
	args, err := cliargs.Parse([]string{"-v"})
	require.NoError(t, err)
	assert.True(t, args.Verbose)

	args, err = cliargs.Parse([]string{"-q"})
	require.NoError(t, err)
	assert.True(t, args.Quiet)
}

func TestParseHelpShortCircuits(t *testing.T) {
	for _, tok := range []string{"/?", "-?", "-h", "-help", "--help"} {
		args, err := cliargs.Parse([]string{tok, "/bogus"})
		require.NoError(t, err)
		assert.True(t, args.Help, "token %q should set Help", tok)
	}
}

func TestParseResponseFileExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.rsp")
	require.NoError(t, os.WriteFile(path, []byte("/l\nbin/\n\n!bin/vendor/**\n"), 0o644))

	args, err := cliargs.Parse([]string{"@" + path})
	require.NoError(t, err)
	assert.True(t, args.ListAssemblies)
	assert.Equal(t, []string{"bin/"}, args.Includes)
	assert.Equal(t, []string{"bin/vendor/**"}, args.Excludes)
}

func TestParseResponseFileMissingIsError(t *testing.T) {
	_, err := cliargs.Parse([]string{"@" + filepath.Join(t.TempDir(), "nope.rsp")})
	assert.Error(t, err)
}

func TestUsageMentionsAllFlags(t *testing.T) {
	for _, want := range []string{"/out:", "/p:", "/l", "/ivt", "/ignoreVersionMismatch", "/embeddedInteropTypes", "/intPtrCtors", "@FILE"} {
		assert.Contains(t, cliargs.Usage, want)
	}
}
