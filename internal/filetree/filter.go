// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Filter returns a pruned copy of root that keeps the nodes whose name
// matches query together with their ancestors. A matching directory keeps its
// whole subtree. Aggregates are copied, not recomputed, so directories still
// show the values of the full download.
//
// Plain mode is a case sensitive substring match. Fuzzy mode uses a
// normalized, case folding fuzzy match.
func Filter(root *Node, query string, fuzzyMatch bool) *Node {
	if root == nil {
		return nil
	}
	if query == "" {
		return root
	}

	match := func(name string) bool {
		return strings.Contains(name, query)
	}
	if fuzzyMatch {
		match = func(name string) bool {
			return fuzzy.MatchNormalizedFold(query, name)
		}
	}

	out := shallowCopy(root)
	for _, child := range root.Children {
		if kept := prune(child, match); kept != nil {
			out.Children = append(out.Children, kept)
		}
	}
	return out
}

func prune(n *Node, match func(string) bool) *Node {
	if match(n.Name) {
		return n
	}
	if n.IsLeaf {
		return nil
	}

	var children []*Node
	for _, child := range n.Children {
		if kept := prune(child, match); kept != nil {
			children = append(children, kept)
		}
	}
	if len(children) == 0 {
		return nil
	}

	out := shallowCopy(n)
	out.Children = children
	return out
}

func shallowCopy(n *Node) *Node {
	cp := *n
	cp.Children = nil
	return &cp
}
