// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes everything a tree displays. Two trees with the same
// fingerprint render identically.
func Fingerprint(root *Node) uint64 {
	if root == nil {
		return 0
	}

	d := xxhash.New()
	var buf [8]byte

	root.Walk(func(n *Node, depth int) bool {
		_, _ = d.WriteString(n.FullPath)
		_, _ = d.Write([]byte{0, byte(n.Included), boolByte(n.IsLeaf)})

		binary.LittleEndian.PutUint64(buf[:], uint64(depth))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(n.OriginalIndex)))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(n.Size))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(n.Progress))
		_, _ = d.Write(buf[:])
		return true
	})

	return d.Sum64()
}

// ETag formats a fingerprint as a strong HTTP entity tag.
func ETag(root *Node) string {
	return `"` + strconv.FormatUint(Fingerprint(root), 16) + `"`
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
