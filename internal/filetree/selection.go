// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"maps"
	"slices"
)

// Indices returns the OriginalIndex of every leaf beneath node, in tree
// order. For a leaf it returns the leaf's own index.
func Indices(node *Node) []int {
	var out []int
	collectLeaves(node, func(leaf *Node) {
		out = append(out, leaf.OriginalIndex)
	})
	return out
}

// IncludedIndices returns the indices of the included leaves beneath node.
func IncludedIndices(node *Node) []int {
	var out []int
	collectLeaves(node, func(leaf *Node) {
		if leaf.Included == Included {
			out = append(out, leaf.OriginalIndex)
		}
	})
	return out
}

func collectLeaves(node *Node, fn func(*Node)) {
	if node == nil {
		return
	}
	if node.IsLeaf {
		fn(node)
		return
	}
	for _, child := range node.Children {
		collectLeaves(child, fn)
	}
}

// Command is the outcome of a toggle: the complete set of file indices that
// must be included afterwards.
type Command struct {
	// Include is true when the toggled node is being switched on.
	Include bool `json:"include"`
	// Toggled holds the indices covered by the toggled node.
	Toggled []int `json:"toggled"`
	// Indices is the full, ascending included set to send to the backend.
	Indices []int `json:"indices"`
}

// ShouldInclude reports whether toggling node switches it on. Anything not
// fully included, a partially included folder too, is switched on.
func ShouldInclude(node *Node) bool {
	switch node.Included {
	case Included:
		return false
	case Excluded, Partial:
		return true
	}
	return true
}

// Reconcile computes the selection that results from toggling node within
// the tree rooted at root. The trees are not modified.
func Reconcile(root, toggled *Node) Command {
	include := ShouldInclude(toggled)
	toggle := Indices(toggled)

	set := make(map[int]struct{})
	for _, idx := range IncludedIndices(root) {
		set[idx] = struct{}{}
	}
	for _, idx := range toggle {
		if include {
			set[idx] = struct{}{}
		} else {
			delete(set, idx)
		}
	}

	indices := slices.Sorted(maps.Keys(set))
	if indices == nil {
		indices = []int{}
	}

	return Command{
		Include: include,
		Toggled: toggle,
		Indices: indices,
	}
}

// ApplySelection returns a copy of descs whose Included flags reflect the
// given included set. Indices outside the list are ignored.
func ApplySelection(descs []Descriptor, indices []int) []Descriptor {
	selected := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		selected[idx] = struct{}{}
	}

	out := make([]Descriptor, len(descs))
	for i, d := range descs {
		_, ok := selected[i]
		d.Included = ok
		out[i] = d
	}
	return out
}
