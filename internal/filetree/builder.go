// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Build creates the tree for a download from its flat file list.
//
// The root is synthetic: it is named after the download and has no index.
// A leading path segment equal to rootName is the download's own folder and
// is dropped. Children keep the order in which they were first seen, and
// every leaf keeps the position of its descriptor as OriginalIndex because
// that position is what the backend understands when selections are sent.
//
// Every descriptor becomes its own leaf, even when its path repeats an
// earlier one. A node whose path is already taken by a sibling gets a
// "#<index>" suffix on its FullPath so Find stays unambiguous.
//
// An empty list yields a root without children, which callers must treat as
// "not ready" rather than as an empty download.
func Build(descs []Descriptor, rootName, sep string) *Node {
	if sep == "" {
		sep = DefaultSeparator
	}

	b := &builder{
		sep:   sep,
		taken: map[string]struct{}{rootName: {}},
	}
	root := newDir(rootName, rootName)

	for i, d := range descs {
		segments := splitPath(d.Path, rootName, sep)
		if len(segments) == 0 {
			name := d.Path
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			b.addLeaf(root, name, i, d)
			continue
		}

		parent := root
		for _, segment := range segments[:len(segments)-1] {
			parent = b.dirChild(parent, segment, i)
		}
		b.addLeaf(parent, segments[len(segments)-1], i, d)
	}

	aggregate(root)
	return root
}

// builder tracks the full paths handed out during one Build.
type builder struct {
	sep   string
	taken map[string]struct{}
}

func splitPath(path, rootName, sep string) []string {
	parts := strings.Split(path, sep)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	if len(segments) > 0 && segments[0] == rootName {
		segments = segments[1:]
	}
	return segments
}

func newDir(name, fullPath string) *Node {
	return &Node{
		Name:          name,
		FullPath:      fullPath,
		OriginalIndex: NoIndex,
	}
}

// fullPath joins name onto parent and reserves the result. A path that
// already belongs to another node gets "#<index>" appended until it is free.
func (b *builder) fullPath(parent *Node, name string, index int) (string, bool) {
	path := parent.FullPath + b.sep + name
	_, dup := b.taken[path]
	for taken := dup; taken; _, taken = b.taken[path] {
		path += "#" + strconv.Itoa(index)
	}
	b.taken[path] = struct{}{}
	return path, dup
}

// dirChild returns the directory child called name, creating it when missing.
// Fan-out per directory is small, so a linear scan is enough.
func (b *builder) dirChild(parent *Node, name string, index int) *Node {
	for _, child := range parent.Children {
		if !child.IsLeaf && child.Name == name {
			return child
		}
	}
	path, _ := b.fullPath(parent, name, index)
	dir := newDir(name, path)
	parent.Children = append(parent.Children, dir)
	return dir
}

func (b *builder) addLeaf(parent *Node, name string, index int, d Descriptor) {
	path, dup := b.fullPath(parent, name, index)
	if dup {
		log.Debug().
			Str("path", d.Path).
			Int("index", index).
			Str("fullPath", path).
			Msg("Duplicate file path in download")
	}

	parent.Children = append(parent.Children, &Node{
		Name:          name,
		FullPath:      path,
		IsLeaf:        true,
		Size:          d.Size,
		Progress:      clampProgress(d.Progress),
		Included:      inclusionOf(d.Included),
		OriginalIndex: index,
	})
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// aggregate derives size, progress and inclusion of every directory from its
// children in a single bottom-up pass.
func aggregate(n *Node) {
	if n.IsLeaf {
		return
	}

	var (
		size     int64
		weighted float64
		all      = true
		none     = true
	)

	for _, child := range n.Children {
		aggregate(child)

		size += child.Size
		weighted += float64(child.Size) * child.Progress

		switch child.Included {
		case Included:
			none = false
		case Excluded:
			all = false
		case Partial:
			all = false
			none = false
		}
	}

	n.Size = size
	if size > 0 {
		n.Progress = weighted / float64(size)
	} else {
		n.Progress = 0
	}

	switch {
	case len(n.Children) == 0:
		n.Included = Excluded
	case all:
		n.Included = Included
	case none:
		n.Included = Excluded
	default:
		n.Included = Partial
	}
}
