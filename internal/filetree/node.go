// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filetree turns the flat file list of a download into a tree and
// computes file selections over it.
package filetree

import (
	"encoding/json"
	"fmt"
)

// DefaultSeparator is the path separator used by every supported backend.
const DefaultSeparator = "/"

// NoIndex is the OriginalIndex of every non-leaf node.
const NoIndex = -1

// Inclusion is the tri-state selection value of a node.
type Inclusion uint8

const (
	Excluded Inclusion = iota
	Included
	Partial
)

func inclusionOf(included bool) Inclusion {
	if included {
		return Included
	}
	return Excluded
}

func (i Inclusion) String() string {
	switch i {
	case Included:
		return "included"
	case Partial:
		return "partial"
	default:
		return "excluded"
	}
}

// MarshalJSON encodes Included/Excluded as booleans and Partial as "partial".
func (i Inclusion) MarshalJSON() ([]byte, error) {
	switch i {
	case Included:
		return []byte("true"), nil
	case Partial:
		return []byte(`"partial"`), nil
	default:
		return []byte("false"), nil
	}
}

func (i *Inclusion) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case bool:
		*i = inclusionOf(v)
	case string:
		if v != "partial" {
			return fmt.Errorf("invalid inclusion value %q", v)
		}
		*i = Partial
	default:
		return fmt.Errorf("invalid inclusion value %s", string(data))
	}
	return nil
}

// MarshalYAML mirrors MarshalJSON for the yaml output of the CLI.
func (i Inclusion) MarshalYAML() (any, error) {
	switch i {
	case Included:
		return true, nil
	case Partial:
		return "partial", nil
	default:
		return false, nil
	}
}

// Descriptor is one file of a download as reported by the backend. Its
// position in the backend's list is its identity.
type Descriptor struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Included bool    `json:"included"`
}

// Node is a file (leaf) or directory of a download. Directory values are
// derived from their leaves when the tree is built and never change after.
type Node struct {
	Name          string    `json:"name" yaml:"name"`
	FullPath      string    `json:"fullPath" yaml:"fullPath"`
	IsLeaf        bool      `json:"isLeaf" yaml:"isLeaf"`
	Size          int64     `json:"size" yaml:"size"`
	Progress      float64   `json:"progress" yaml:"progress"`
	Included      Inclusion `json:"included" yaml:"included"`
	OriginalIndex int       `json:"originalIndex" yaml:"originalIndex"`
	Children      []*Node   `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsExpandable reports whether node has at least one child.
func IsExpandable(node *Node) bool {
	return node != nil && len(node.Children) > 0
}

// Find resolves a node by its full path.
func (n *Node) Find(fullPath string) *Node {
	if n == nil {
		return nil
	}
	if n.FullPath == fullPath {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(fullPath); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the children of the visited node.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	walk(n, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) bool) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		walk(child, depth+1, fn)
	}
}

// CountNodes counts n and all of its descendants.
func CountNodes(n *Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += CountNodes(child)
	}
	return count
}
