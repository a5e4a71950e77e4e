package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(content), 0644))
}

func TestWorkspaceExcludes(t *testing.T) {
	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"zeta":  {policy.DoNotBuild},
		"alpha": {policy.DoNotBuildArmhf},
		"plain": {policy.SingleThreaded},
	}}
	cat, err := New(Config{Root: t.TempDir(), Policy: tbl})
	require.NoError(t, err)

	armhf, err := target.ParseTriple("armv7-unknown-linux-gnueabihf")
	require.NoError(t, err)
	x86, err := target.ParseTriple("x86_64-unknown-linux-gnu")
	require.NoError(t, err)

	// Sorted for stable cargo invocations.
	assert.Equal(t, []string{"alpha", "zeta"}, cat.WorkspaceExcludes(armhf))
	assert.Equal(t, []string{"zeta"}, cat.WorkspaceExcludes(x86))
}

func TestCommonCrates(t *testing.T) {
	commonRoot := t.TempDir()
	writeManifest(t, filepath.Join(commonRoot, "audio"), "[package]\nname = \"audio_util\"\n")
	writeManifest(t, filepath.Join(commonRoot, "sys"), "[package]\nname = \"sys_util\"\n")
	writeManifest(t, filepath.Join(commonRoot, "excluded"), "[package]\nname = \"excluded_util\"\n")
	// A virtual manifest without a package section falls back to its directory name.
	writeManifest(t, filepath.Join(commonRoot, "virtual"), "[workspace]\nmembers = []\n")

	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"excluded_util": {policy.DoNotBuild},
	}}
	cat, err := New(Config{Root: t.TempDir(), CommonRoot: commonRoot, Policy: tbl})
	require.NoError(t, err)

	crates, err := cat.CommonCrates(target.HostTriple())
	require.NoError(t, err)

	var names []string
	for _, crate := range crates {
		names = append(names, crate.Name)
	}
	assert.Equal(t, []string{"audio_util", "sys_util", "virtual"}, names)
}

func TestCommonCratesWithoutRoot(t *testing.T) {
	cat, err := New(Config{Root: t.TempDir(), Policy: policy.Default()})
	require.NoError(t, err)

	crates, err := cat.CommonCrates(target.HostTriple())
	require.NoError(t, err)
	assert.Empty(t, crates)
}
