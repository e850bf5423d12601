// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
	"github.com/direktiv/direktiv-sub000/pkg/request"
)

func newFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"fs"},
		Short:   "Browse and edit the namespace file tree",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls [PATH]",
			Short: "List a directory",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p := "/"
				if len(args) == 1 {
					p = args[0]
				}
				n, err := a.client.GetNode(cmd.Context(), a.namespace(), p)
				if err != nil {
					return err
				}
				nodes := n.Children
				if n.Type != direktiv.NodeDirectory {
					nodes = []direktiv.Node{n.Node}
				}
				rows := make([][]string, 0, len(nodes))
				for _, c := range nodes {
					rows = append(rows, []string{c.Name(), c.Type, formatSize(c.Size), formatTime(c.UpdatedAt)})
				}
				return a.out.Result(nodes, []string{"NAME", "TYPE", "SIZE", "UPDATED"}, rows)
			},
		},
		newCatCmd(a),
		&cobra.Command{
			Use:   "mkdir PATH",
			Short: "Create a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				parent, name := splitNodePath(args[0])
				n, err := a.client.CreateDirectory(cmd.Context(), a.namespace(), parent, name)
				if err != nil {
					return err
				}
				a.out.Success("created %s", n.Path)
				return nil
			},
		},
		newPushCmd(a),
		&cobra.Command{
			Use:   "mv PATH NEW_PATH",
			Short: "Move or rename a node",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.client.RenameNode(cmd.Context(), a.namespace(), args[0], args[1])
				if err != nil {
					return err
				}
				a.out.Success("moved %s to %s", args[0], n.Path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm PATH",
			Short: "Delete a node, recursively for directories",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.confirm("delete " + args[0]); err != nil {
					return err
				}
				if err := a.client.DeleteNode(cmd.Context(), a.namespace(), args[0]); err != nil {
					return err
				}
				a.out.Success("deleted %s", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "revisions PATH",
			Short: "List the revisions of a workflow",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				revs, err := a.client.ListRevisions(cmd.Context(), a.namespace(), args[0])
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(revs))
				for _, r := range revs {
					rows = append(rows, []string{r.ID, orDash(strings.Join(r.Tags, ",")), formatTime(r.CreatedAt)})
				}
				return a.out.Result(revs, []string{"ID", "TAGS", "CREATED"}, rows)
			},
		},
		&cobra.Command{
			Use:   "tag PATH REF TAG",
			Short: "Tag a workflow revision",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := a.client.TagRevision(cmd.Context(), a.namespace(), args[0], direktiv.TagRevisionInput{
					Ref: args[1],
					Tag: args[2],
				})
				if err != nil {
					return err
				}
				a.out.Success("tagged revision %s as %s", r.ID, args[2])
				return nil
			},
		},
		&cobra.Command{
			Use:   "check PATH",
			Short: "Fetch a workflow and check its states",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				def, err := a.client.WorkflowDefinition(cmd.Context(), a.namespace(), args[0])
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(def.States))
				for _, s := range def.States {
					rows = append(rows, []string{s.ID, s.Type, orDash(s.Transition)})
				}
				return a.out.Result(def, []string{"STATE", "TYPE", "TRANSITION"}, rows)
			},
		},
	)
	return cmd
}

func newCatCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "cat PATH",
		Short: "Print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw {
				s, err := a.client.RawFile(cmd.Context(), a.namespace(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(a.stdout, s)
				return err
			}
			data, err := a.client.ReadFile(cmd.Context(), a.namespace(), args[0])
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "read through the raw endpoint instead of decoding the node")
	return cmd
}

func newPushCmd(a *app) *cobra.Command {
	var (
		nodeType string
		mimeType string
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push LOCAL PATH",
		Short: "Upload a local file, creating or replacing the node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, remote := args[0], args[1]
			if nodeType == "" {
				nodeType = guessNodeType(local)
			}
			if mimeType == "" {
				mimeType = guessMimeType(local)
			}
			push := func(ctx context.Context) error {
				data, err := os.ReadFile(local)
				if err != nil {
					return err
				}
				n, created, err := pushFile(ctx, a.client, a.namespace(), remote, nodeType, mimeType, data)
				if err != nil {
					return err
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				a.out.Success("%s %s (%s)", verb, n.Path, formatSize(int64(len(data))))
				return nil
			}

			ctx := cmd.Context()
			if err := push(ctx); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			w, err := newFileWatcher(local, debounce, a.logger.Slog())
			if err != nil {
				return err
			}
			defer w.Close()
			a.out.Line("%s", a.out.styles.muted.Render("watching "+local+", press Ctrl+C to stop"))
			return w.Run(ctx, func() error { return push(ctx) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&nodeType, "type", "", "node type when creating (default from the file extension)")
	f.StringVar(&mimeType, "mime-type", "", "mime type when creating (default from the file extension)")
	f.BoolVarP(&watch, "watch", "w", false, "push again whenever the local file changes")
	f.DurationVar(&debounce, "debounce", 300*time.Millisecond, "wait this long after a change before pushing")
	return cmd
}

// pushFile replaces the content of remote, or creates it when missing.
func pushFile(ctx context.Context, c *direktiv.Client, namespace, remote, nodeType, mimeType string, data []byte) (direktiv.Node, bool, error) {
	_, err := c.GetNode(ctx, namespace, remote)
	switch {
	case err == nil:
		n, err := c.WriteFile(ctx, namespace, remote, data)
		return n, false, err
	case request.IsNotFound(err):
		parent, name := splitNodePath(remote)
		n, err := c.CreateFile(ctx, namespace, parent, name, nodeType, mimeType, data)
		return n, true, err
	default:
		return direktiv.Node{}, false, err
	}
}

func splitNodePath(p string) (parent, name string) {
	p = path.Clean("/" + strings.Trim(p, "/"))
	return path.Dir(p), path.Base(p)
}

func guessNodeType(local string) string {
	switch {
	case strings.HasSuffix(local, ".wf.ts"), strings.HasSuffix(local, ".yaml"), strings.HasSuffix(local, ".yml"):
		return direktiv.NodeWorkflow
	default:
		return direktiv.NodeFile
	}
}

func guessMimeType(local string) string {
	switch ext := filepath.Ext(local); ext {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ts":
		return "application/x-typescript"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "text/plain"
	}
}
