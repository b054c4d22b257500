// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes renders a size in binary units with two decimals.
func FormatBytes(size int64) string {
	if size <= 0 {
		return "0.00 B"
	}
	exp := int(math.Floor(math.Log(float64(size)) / math.Log(1024)))
	if exp >= len(byteUnits) {
		exp = len(byteUnits) - 1
	}
	value := float64(size) / math.Pow(1024, float64(exp))
	return fmt.Sprintf("%.2f %s", value, byteUnits[exp])
}

// FormatProgress renders a [0,1] fraction as a percentage with one decimal.
func FormatProgress(progress float64) string {
	return fmt.Sprintf("%.1f%%", progress*100)
}

// RenderOptions controls the text rendering of a tree.
type RenderOptions struct {
	// Color enables ANSI colours for the selection marker.
	Color bool
	// MaxDepth stops descending below this depth when positive.
	MaxDepth int
	// Indent is the number of spaces per level, 2 when zero.
	Indent int
}

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// Render writes an indented text view of root. The synthetic root itself is
// printed as the header line. A root without children prints a placeholder.
func Render(w io.Writer, root *Node, opts RenderOptions) error {
	if opts.Indent <= 0 {
		opts.Indent = 2
	}

	bw := bufio.NewWriter(w)

	if root == nil || len(root.Children) == 0 {
		if _, err := fmt.Fprintln(bw, "No files available"); err != nil {
			return err
		}
		return bw.Flush()
	}

	var err error
	root.Walk(func(n *Node, depth int) bool {
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(bw, "%s%s %s  %s  %s\n",
			strings.Repeat(" ", depth*opts.Indent),
			marker(n.Included, opts.Color),
			displayName(n),
			FormatBytes(n.Size),
			FormatProgress(n.Progress),
		)
		return opts.MaxDepth <= 0 || depth < opts.MaxDepth
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func displayName(n *Node) string {
	if n.IsLeaf {
		return n.Name
	}
	return n.Name + "/"
}

func marker(inc Inclusion, color bool) string {
	var m, c string
	switch inc {
	case Included:
		m, c = "[x]", ansiGreen
	case Partial:
		m, c = "[~]", ansiYellow
	default:
		m, c = "[ ]", ansiDim
	}
	if !color {
		return m
	}
	return c + m + ansiReset
}
