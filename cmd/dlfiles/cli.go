// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/buildinfo"
	"github.com/autobrr/dlfiles/internal/config"
	"github.com/autobrr/dlfiles/internal/downloads"
	"github.com/autobrr/dlfiles/internal/filetree"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// clientFlags are shared by the commands that talk to a backend directly.
type clientFlags struct {
	configDir string
	dataDir   string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "data directory path (defaults to next to config file)")
}

// session is what a one-shot command works with.
type session struct {
	manager *downloads.Manager
	limit   int
}

// withManager opens the configured backend and hands a manager without poll
// loops to fn.
func (f *clientFlags) withManager(cmd *cobra.Command, fn func(ctx context.Context, s session) error) error {
	cfg, err := config.New(f.configDir, buildinfo.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if f.dataDir != "" {
		cfg.SetDataDir(f.dataDir)
	}
	cfg.ApplyLogConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	mc := managerConfig(cfg)
	mc.DisablePollLoops = true
	manager := downloads.NewManager(mc, svcs.backend, nil)
	manager.Start(ctx)
	defer manager.Close()

	return fn(ctx, session{manager: manager, limit: mc.RefreshAllLimit})
}

func RunJobsCommand() *cobra.Command {
	var (
		flags     clientFlags
		withFiles bool
	)

	command := &cobra.Command{
		Use:   "jobs",
		Short: "List downloads known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, s session) error {
				jobs, err := s.manager.Jobs(ctx)
				if err != nil {
					return cliError(err)
				}

				var selected []selectionSummary
				if withFiles {
					selected, err = summarizeSelections(ctx, s.manager.Backend(), jobs, s.limit)
					if err != nil {
						return cliError(err)
					}
				}

				return writeJobs(cmd.OutOrStdout(), jobs, selected)
			})
		},
	}

	flags.register(command)
	command.Flags().BoolVar(&withFiles, "files", false, "fetch the file list of every job and show the selected size")

	return command
}

// selectionSummary is the included share of a job's files.
type selectionSummary struct {
	Files        int
	Selected     int
	SelectedSize int64
}

func summarizeSelections(ctx context.Context, svc backend.Service, jobs []backend.Job, limit int) ([]selectionSummary, error) {
	out := make([]selectionSummary, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			descs, err := svc.Files(gctx, job.ID)
			if errors.Is(err, backend.ErrNotReady) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "files of %s", job.ID)
			}
			summary := selectionSummary{Files: len(descs)}
			for _, d := range descs {
				if d.Included {
					summary.Selected++
					summary.SelectedSize += d.Size
				}
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeJobs(w io.Writer, jobs []backend.Job, selected []selectionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := "ID\tNAME\tSTATUS\tPROGRESS\tSIZE"
	if selected != nil {
		header += "\tSELECTED"
	}
	fmt.Fprintln(tw, header)

	for i, job := range jobs {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s",
			job.ID, job.Name, job.Status,
			filetree.FormatProgress(job.Progress),
			filetree.FormatBytes(job.Size),
		)
		if selected != nil {
			s := selected[i]
			line += fmt.Sprintf("\t%d/%d (%s)", s.Selected, s.Files, filetree.FormatBytes(s.SelectedSize))
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

// treeFlags control how a tree is printed.
type treeFlags struct {
	output  string
	filter  string
	fuzzy   bool
	depth   int
	noColor bool
}

func (f *treeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", outputText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&f.filter, "filter", "", "only show entries whose name contains this text")
	cmd.Flags().BoolVar(&f.fuzzy, "fuzzy", false, "match --filter fuzzily")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "limit text output to this many levels")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable coloured markers")
}

func (f *treeFlags) validate() error {
	switch f.output {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", f.output)
	}
}

func (f *treeFlags) useColor(w io.Writer) bool {
	if f.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func printTree(w io.Writer, root *filetree.Node, flags treeFlags, color bool) error {
	root = filetree.Filter(root, strings.TrimSpace(flags.filter), flags.fuzzy)

	switch flags.output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(root)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return err
		}
		return enc.Close()
	default:
		return filetree.Render(w, root, filetree.RenderOptions{
			Color:    color,
			MaxDepth: flags.depth,
		})
	}
}

// loadView watches jobID and waits for its first fetch.
func loadView(ctx context.Context, manager *downloads.Manager, jobID string) (*downloads.View, error) {
	view, err := manager.Watch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view.Refresher().Wait()

	snap := view.Refresher().Snapshot()
	if snap.Tree == nil && snap.LastError != nil && !errors.Is(snap.LastError, backend.ErrNotReady) {
		return nil, snap.LastError
	}
	return view, nil
}

func RunTreeCommand() *cobra.Command {
	var (
		flags clientFlags
		tree  treeFlags
	)

	command := &cobra.Command{
		Use:   "tree <jobID>",
		Short: "Print the file tree of a download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tree.validate(); err != nil {
				return err
			}
			return flags.withManager(cmd, func(ctx context.Context, s session) error {
				view, err := loadView(ctx, s.manager, args[0])
				if err != nil {
					return cliError(err)
				}
				out := cmd.OutOrStdout()
				return printTree(out, view.Tree(), tree, tree.useColor(out))
			})
		},
	}

	flags.register(command)
	tree.register(command)

	return command
}

func RunToggleCommand() *cobra.Command {
	var (
		flags clientFlags
		tree  treeFlags
		quiet bool
	)

	command := &cobra.Command{
		Use:   "toggle <jobID> <path>",
		Short: "Include or exclude a file or folder of a download",
		Long: `Flip the inclusion of a file or folder. A folder that is fully included
is excluded; anything else, a partially included folder too, is included.

The path is either the full path shown by "tree" or relative to the download
root.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tree.validate(); err != nil {
				return err
			}
			return flags.withManager(cmd, func(ctx context.Context, s session) error {
				view, err := loadView(ctx, s.manager, args[0])
				if err != nil {
					return cliError(err)
				}

				cmdResult, err := view.ToggleAndWait(ctx, args[1])
				if err != nil {
					return cliError(err)
				}
				view.Refresher().Wait()

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, describeCommand(cmdResult))
				if quiet {
					return nil
				}
				return printTree(out, view.Tree(), tree, tree.useColor(out))
			})
		},
	}

	flags.register(command)
	tree.register(command)
	command.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the tree afterwards")

	return command
}

func describeCommand(cmd filetree.Command) string {
	verb := "Excluded"
	if cmd.Include {
		verb = "Included"
	}
	noun := "files"
	if len(cmd.Toggled) == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%s %d %s, %d selected", verb, len(cmd.Toggled), noun, len(cmd.Indices))
}

// cliError replaces backend errors with the message a user should see.
func cliError(err error) error {
	switch {
	case errors.Is(err, backend.ErrJobNotFound):
		return errors.New("download not found")
	case errors.Is(err, downloads.ErrNodeNotFound):
		return err
	default:
		return errors.New(backend.Message(err))
	}
}
