package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-ci/crucible/target"
)

func mustTriple(t *testing.T, s string) target.Triple {
	t.Helper()
	triple, err := target.ParseTriple(s)
	require.NoError(t, err)
	return triple
}

func TestDefaultFeatures(t *testing.T) {
	tbl := Default()
	assert.Equal(t, "all-x86_64", tbl.BuildFeatures(mustTriple(t, "x86_64-unknown-linux-gnu")))
	assert.Equal(t, "all-aarch64", tbl.BuildFeatures(mustTriple(t, "aarch64-unknown-linux-gnu")))
	assert.Equal(t, "", tbl.BuildFeatures(mustTriple(t, "riscv64gc-unknown-linux-gnu")))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
crates:
  devices:
    - single-threaded
    - large
  net_util:
    - do-not-run-on-foreign-kernel
features:
  riscv64gc-unknown-linux-gnu: all-riscv64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tbl, err := Load(path)
	require.NoError(t, err)

	assert.True(t, tbl.Has("devices", SingleThreaded))
	assert.True(t, tbl.Has("devices", Large))
	assert.False(t, tbl.Has("devices", DoNotRun))
	assert.True(t, tbl.Has("net_util", DoNotRunOnForeignKernel))
	// The built-in feature matrix survives a partial override.
	assert.Equal(t, "all-riscv64", tbl.BuildFeatures(mustTriple(t, "riscv64gc-unknown-linux-gnu")))
	assert.Equal(t, "all-x86_64", tbl.BuildFeatures(mustTriple(t, "x86_64-unknown-linux-gnu")))
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
crates:
  devices:
    - do-not-frobnicate
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do-not-frobnicate")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExcludedFromBuild(t *testing.T) {
	tbl := &Table{Crates: map[string][]Option{
		"never":   {DoNotBuild},
		"no-arm":  {DoNotBuildArmhf},
		"no-win":  {DoNotBuildWin64},
		"no-aa64": {DoNotBuildAarch64},
	}}

	x86 := mustTriple(t, "x86_64-unknown-linux-gnu")
	armhf := mustTriple(t, "armv7-unknown-linux-gnueabihf")
	aarch64 := mustTriple(t, "aarch64-unknown-linux-gnu")
	win := mustTriple(t, "x86_64-pc-windows-gnu")

	tests := []struct {
		name     string
		crate    string
		triple   target.Triple
		excluded bool
	}{
		{"unconditional", "never", x86, true},
		{"arm exclusion on armhf", "no-arm", armhf, true},
		{"arm exclusion elsewhere", "no-arm", x86, false},
		{"aarch64 exclusion", "no-aa64", aarch64, true},
		{"windows exclusion", "no-win", win, true},
		{"windows exclusion on linux", "no-win", x86, false},
		{"crate without options", "plain", x86, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.excluded, tbl.ExcludedFromBuild(tc.crate, tc.triple))
		})
	}
}

func TestExcludedFromRun(t *testing.T) {
	tbl := &Table{Crates: map[string][]Option{
		"never":        {DoNotRun},
		"native-only":  {DoNotRunOnForeignKernel},
		"no-x86":       {DoNotRunX86_64},
		"multi-option": {SingleThreaded, DoNotRunArmhf},
	}}

	x86 := mustTriple(t, "x86_64-unknown-linux-gnu")
	armhf := mustTriple(t, "armv7-unknown-linux-gnueabihf")

	tests := []struct {
		name     string
		crate    string
		triple   target.Triple
		native   bool
		excluded bool
	}{
		{"unconditional", "never", x86, true, true},
		{"foreign kernel blocked", "native-only", armhf, false, true},
		{"native kernel allowed", "native-only", x86, true, false},
		{"arch exclusion", "no-x86", x86, true, true},
		{"modifier does not exclude", "multi-option", x86, true, false},
		{"modifier plus arch exclusion", "multi-option", armhf, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.excluded, tbl.ExcludedFromRun(tc.crate, tc.triple, tc.native))
		})
	}
}
