// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_ScenarioB_IncludedFolderSwitchesOff(t *testing.T) {
	t.Parallel()

	root := Build(scenarioA(), "root", "/")
	a := root.Find("root/a")
	require.NotNil(t, a)

	cmd := Reconcile(root, a)
	assert.False(t, cmd.Include)
	assert.ElementsMatch(t, []int{0, 1}, cmd.Toggled)
	assert.Equal(t, []int{}, cmd.Indices)
}

func TestReconcile_ScenarioC_PartialFolderSwitchesOn(t *testing.T) {
	t.Parallel()

	root := Build([]Descriptor{
		{Path: "dir/x", Size: 1, Included: true},
		{Path: "dir/y", Size: 1, Included: false},
		{Path: "z", Size: 1, Included: true},
	}, "root", "/")
	dir := root.Find("root/dir")
	require.NotNil(t, dir)
	require.Equal(t, Partial, dir.Included)

	cmd := Reconcile(root, dir)
	assert.True(t, cmd.Include)
	assert.Equal(t, []int{0, 1, 2}, cmd.Indices)
}

func TestReconcile_Leaf(t *testing.T) {
	t.Parallel()

	root := Build(scenarioA(), "root", "/")

	cmd := Reconcile(root, root.Find("root/d.txt"))
	assert.True(t, cmd.Include)
	assert.Equal(t, []int{2}, cmd.Toggled)
	assert.Equal(t, []int{0, 1, 2}, cmd.Indices)

	cmd = Reconcile(root, root.Find("root/a/b.txt"))
	assert.False(t, cmd.Include)
	assert.Equal(t, []int{1}, cmd.Indices)
}

func TestReconcile_KeepsUntoggledDuplicate(t *testing.T) {
	t.Parallel()

	root := Build([]Descriptor{
		{Path: "dl/a.mkv", Size: 100, Included: true},
		{Path: "dl/.pad/16384", Size: 16384, Included: true},
		{Path: "dl/b.mkv", Size: 200, Included: true},
		{Path: "dl/.pad/16384", Size: 16384, Included: true},
	}, "dl", "/")

	cmd := Reconcile(root, root.Find("dl/a.mkv"))
	assert.False(t, cmd.Include)
	assert.Equal(t, []int{0}, cmd.Toggled)
	assert.Equal(t, []int{1, 2, 3}, cmd.Indices)

	cmd = Reconcile(root, root.Find("dl/.pad/16384"))
	assert.Equal(t, []int{1}, cmd.Toggled)
	assert.Equal(t, []int{0, 2, 3}, cmd.Indices)
}

func TestReconcile_DoesNotMutateTree(t *testing.T) {
	t.Parallel()

	root := Build(scenarioA(), "root", "/")
	before := Fingerprint(root)

	_ = Reconcile(root, root.Find("root/a"))
	assert.Equal(t, before, Fingerprint(root))
}

func TestReconcile_ToggleOffThenOnRestoresSelection(t *testing.T) {
	t.Parallel()

	descs := []Descriptor{
		{Path: "season/e1", Size: 10, Included: true},
		{Path: "season/e2", Size: 10, Included: true},
		{Path: "extras/a", Size: 5, Included: true},
		{Path: "extras/b", Size: 5, Included: false},
	}
	root := Build(descs, "show", "/")
	original := IncludedIndices(root)

	off := Reconcile(root, root.Find("show/season"))
	require.False(t, off.Include)

	// Re-derive the tree the backend would report after the first submit.
	after := Build(ApplySelection(descs, off.Indices), "show", "/")
	on := Reconcile(after, after.Find("show/season"))
	require.True(t, on.Include)

	assert.ElementsMatch(t, original, on.Indices)
}

func TestReconcile_PreservesUniverse(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(5, 6))
	for iter := 0; iter < 50; iter++ {
		descs := randomDescriptors(r, 1+r.IntN(80))
		root := Build(descs, "job", "/")

		var nodes []*Node
		root.Walk(func(n *Node, _ int) bool {
			nodes = append(nodes, n)
			return true
		})
		toggled := nodes[r.IntN(len(nodes))]

		cmd := Reconcile(root, toggled)

		covered := make(map[int]bool)
		for _, idx := range cmd.Toggled {
			covered[idx] = true
		}
		desired := make(map[int]bool)
		for i, idx := range cmd.Indices {
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, len(descs))
			if i > 0 {
				require.Greater(t, idx, cmd.Indices[i-1])
			}
			desired[idx] = true
		}
		for _, idx := range IncludedIndices(root) {
			if !covered[idx] {
				require.True(t, desired[idx], "dropped untouched index %d", idx)
			}
		}
		for idx := range covered {
			require.Equal(t, cmd.Include, desired[idx])
		}
	}
}

func TestApplySelection(t *testing.T) {
	t.Parallel()

	got := ApplySelection(scenarioA(), []int{2, 9, -1})
	assert.False(t, got[0].Included)
	assert.False(t, got[1].Included)
	assert.True(t, got[2].Included)
	assert.Equal(t, "a/b.txt", got[0].Path)
}
