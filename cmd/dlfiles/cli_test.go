// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/downloads"
	"github.com/autobrr/dlfiles/internal/filetree"
)

type filesOnly struct {
	files map[string][]filetree.Descriptor
}

func (f filesOnly) Name() string                                     { return "test" }
func (f filesOnly) Jobs(context.Context) ([]backend.Job, error)      { return nil, nil }
func (f filesOnly) Job(context.Context, string) (backend.Job, error) { return backend.Job{}, nil }
func (f filesOnly) SetSelection(context.Context, string, []int) error {
	return nil
}

func (f filesOnly) Files(_ context.Context, jobID string) ([]filetree.Descriptor, error) {
	descs, ok := f.files[jobID]
	if !ok {
		return nil, backend.ErrJobNotFound
	}
	if len(descs) == 0 {
		return nil, backend.ErrNotReady
	}
	return descs, nil
}

func sampleTree() *filetree.Node {
	return filetree.Build([]filetree.Descriptor{
		{Path: "Show/S01/e1.mkv", Size: 1024, Progress: 1, Included: true},
		{Path: "Show/S01/e2.mkv", Size: 2048, Progress: 0.5},
		{Path: "Show/info.nfo", Size: 10, Included: true},
	}, "Show", filetree.DefaultSeparator)
}

func TestSummarizeSelections(t *testing.T) {
	svc := filesOnly{files: map[string][]filetree.Descriptor{
		"a": {{Path: "x", Size: 10, Included: true}, {Path: "y", Size: 5}},
		"b": {},
	}}
	jobs := []backend.Job{{ID: "a"}, {ID: "b"}}

	got, err := summarizeSelections(context.Background(), svc, jobs, 2)
	require.NoError(t, err)
	assert.Equal(t, []selectionSummary{{Files: 2, Selected: 1, SelectedSize: 10}, {}}, got)

	_, err = summarizeSelections(context.Background(), svc, []backend.Job{{ID: "missing"}}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrJobNotFound))
}

func TestWriteJobs(t *testing.T) {
	jobs := []backend.Job{{ID: "abc", Name: "Show", Status: backend.StatusDownloading, Size: 2048, Progress: 0.25}}

	var buf bytes.Buffer
	require.NoError(t, writeJobs(&buf, jobs, nil))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "SELECTED")
	assert.Contains(t, lines[1], "downloading")
	assert.Contains(t, lines[1], "25.0%")
	assert.Contains(t, lines[1], "2.00 KB")

	buf.Reset()
	require.NoError(t, writeJobs(&buf, jobs, []selectionSummary{{Files: 3, Selected: 1, SelectedSize: 1024}}))
	assert.Contains(t, buf.String(), "SELECTED")
	assert.Contains(t, buf.String(), "1/3 (1.00 KB)")
}

func TestPrintTree(t *testing.T) {
	root := sampleTree()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTree(&buf, root, treeFlags{output: outputText}, false))
		out := buf.String()
		assert.Contains(t, out, "S01/")
		assert.Contains(t, out, "e2.mkv")
		assert.NotContains(t, out, "\x1b[")
	})

	t.Run("text filtered", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTree(&buf, root, treeFlags{output: outputText, filter: "nfo"}, false))
		assert.Contains(t, buf.String(), "info.nfo")
		assert.NotContains(t, buf.String(), "e1.mkv")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTree(&buf, root, treeFlags{output: outputJSON}, false))

		var decoded filetree.Node
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "Show", decoded.Name)
		assert.Equal(t, filetree.Partial, decoded.Included)
		require.Len(t, decoded.Children, 2)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTree(&buf, root, treeFlags{output: outputYAML}, false))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "Show", decoded["name"])
		assert.Equal(t, "partial", decoded["included"])
	})

	t.Run("not ready", func(t *testing.T) {
		var buf bytes.Buffer
		empty := filetree.Build(nil, "Show", filetree.DefaultSeparator)
		require.NoError(t, printTree(&buf, empty, treeFlags{output: outputText}, false))
		assert.Equal(t, "No files available\n", buf.String())
	})
}

func TestTreeFlagsValidate(t *testing.T) {
	for _, output := range []string{outputText, outputJSON, outputYAML} {
		assert.NoError(t, (&treeFlags{output: output}).validate())
	}
	assert.Error(t, (&treeFlags{output: "xml"}).validate())
}

func TestDescribeCommand(t *testing.T) {
	assert.Equal(t, "Excluded 2 files, 1 selected",
		describeCommand(filetree.Command{Toggled: []int{0, 1}, Indices: []int{2}}))
	assert.Equal(t, "Included 1 file, 3 selected",
		describeCommand(filetree.Command{Include: true, Toggled: []int{1}, Indices: []int{0, 1, 2}}))
}

func TestCLIError(t *testing.T) {
	assert.EqualError(t, cliError(backend.ErrJobNotFound), "download not found")
	assert.EqualError(t, cliError(backend.Unreachable(errors.New("dial tcp"))), "Could not reach the download backend")
	assert.EqualError(t, cliError(&backend.ApplicationError{Message: "Invalid file index"}), "Invalid file index")
	assert.ErrorIs(t, cliError(downloads.ErrNodeNotFound), downloads.ErrNodeNotFound)
}
