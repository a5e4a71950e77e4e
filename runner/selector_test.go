package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

func TestIsIntegrationTest(t *testing.T) {
	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"heavyweight": {policy.UnitAsIntegration},
	}}

	unit := types.Executable{CrateName: "base", Kind: types.KindLib, IsTest: true}
	standalone := types.Executable{CrateName: "base", Kind: types.KindTest, IsTest: true}
	promoted := types.Executable{CrateName: "heavyweight", Kind: types.KindLib, IsTest: true}

	assert.False(t, IsIntegrationTest(unit, tbl))
	assert.True(t, IsIntegrationTest(standalone, tbl))
	assert.True(t, IsIntegrationTest(promoted, tbl))
}

func TestSelectTests(t *testing.T) {
	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"excluded": {policy.DoNotRun},
	}}
	tgt := target.NewHost(target.HostTriple(), "")

	executables := []types.Executable{
		{CrateName: "alpha", TargetName: "alpha", Kind: types.KindLib, IsTest: true},
		{CrateName: "alpha", TargetName: "wire_format", Kind: types.KindTest, IsTest: true},
		{CrateName: "beta", TargetName: "beta", Kind: types.KindLib, IsTest: true},
		{CrateName: "excluded", TargetName: "excluded", Kind: types.KindLib, IsTest: true},
		{CrateName: "alpha", TargetName: "alpha", Kind: types.KindBin, IsTest: false},
	}

	t.Run("drops non-tests and excluded crates", func(t *testing.T) {
		selected, err := SelectTests(executables, tbl, tgt, nil)
		require.NoError(t, err)
		var names []string
		for _, exe := range selected {
			names = append(names, exe.Name())
		}
		assert.Equal(t, []string{"alpha:alpha", "alpha:wire_format", "beta:beta"}, names)
	})

	t.Run("glob patterns", func(t *testing.T) {
		selected, err := SelectTests(executables, tbl, tgt, []string{"alpha:*"})
		require.NoError(t, err)
		assert.Len(t, selected, 2)

		selected, err = SelectTests(executables, tbl, tgt, []string{"beta:beta", "alpha:wire_format"})
		require.NoError(t, err)
		assert.Len(t, selected, 2)

		selected, err = SelectTests(executables, tbl, tgt, []string{"gamma:*"})
		require.NoError(t, err)
		assert.Empty(t, selected)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := SelectTests(executables, tbl, tgt, []string{"alpha:["})
		assert.Error(t, err)
	})
}

func TestSelectTestsForeignKernel(t *testing.T) {
	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"kernel_bound": {policy.DoNotRunOnForeignKernel},
	}}
	executables := []types.Executable{
		{CrateName: "kernel_bound", TargetName: "kernel_bound", Kind: types.KindLib, IsTest: true},
	}

	native := target.NewHost(target.HostTriple(), "")
	selected, err := SelectTests(executables, tbl, native, nil)
	require.NoError(t, err)
	assert.Len(t, selected, 1)

	foreignTriple, err := target.ParseTriple("aarch64-unknown-linux-gnu")
	require.NoError(t, err)
	if foreignTriple.Arch == target.HostTriple().Arch {
		foreignTriple, err = target.ParseTriple("x86_64-unknown-linux-gnu")
		require.NoError(t, err)
	}
	foreign := target.NewEmulated("emulated", foreignTriple, []string{"qemu"}, "")
	selected, err = SelectTests(executables, tbl, foreign, nil)
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestSplitByCategory(t *testing.T) {
	tbl := &policy.Table{Crates: map[string][]policy.Option{
		"promoted": {policy.UnitAsIntegration},
	}}
	tests := []types.Executable{
		{CrateName: "a", TargetName: "a", Kind: types.KindLib, IsTest: true},
		{CrateName: "a", TargetName: "boot", Kind: types.KindTest, IsTest: true},
		{CrateName: "promoted", TargetName: "promoted", Kind: types.KindLib, IsTest: true},
		{CrateName: "b", TargetName: "b", Kind: types.KindLib, IsTest: true},
	}

	unit, integration := SplitByCategory(tests, tbl)
	require.Len(t, unit, 2)
	require.Len(t, integration, 2)
	assert.Equal(t, "a:a", unit[0].Name())
	assert.Equal(t, "b:b", unit[1].Name())
	assert.Equal(t, "a:boot", integration[0].Name())
	assert.Equal(t, "promoted:promoted", integration[1].Name())
}
