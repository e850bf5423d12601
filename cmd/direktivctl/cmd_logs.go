// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		q      direktiv.LogsQuery
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print namespace, instance or route logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set := 0
			for _, s := range []string{q.Instance, q.Activity, q.Route} {
				if s != "" {
					set++
				}
			}
			if set > 1 {
				return usageError(errOneLogFilter)
			}
			if follow && q.Before != "" {
				return usageError(errFollowBefore)
			}
			return a.showLogs(cmd.Context(), q, follow)
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Instance, "instance", "", "only lines of this instance")
	f.StringVar(&q.Activity, "activity", "", "only lines of this mirror sync")
	f.StringVar(&q.Route, "route", "", "only lines of this gateway route")
	f.StringVar(&q.Trace, "trace", "", "only lines of this trace")
	f.StringVar(&q.Before, "before", "", "page backwards from this cursor")
	f.BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	return cmd
}

// showLogs prints the current page, then streams new lines into the same
// cached page when follow is set.
func (a *app) showLogs(ctx context.Context, q direktiv.LogsQuery, follow bool) error {
	page, err := a.client.ListLogs(ctx, a.namespace(), q)
	if err != nil {
		return err
	}
	if !follow && a.out.format == "json" {
		return a.out.JSON(page)
	}
	printLines(a, page.Data, a.logLine)
	if !follow {
		return nil
	}

	sub, err := a.client.FollowLogs(a.namespace(), q, func(page direktiv.LogsPage, added int) {
		printLines(a, tail(page.Data, added), a.logLine)
	}, a.followOptions("logs")...)
	if err != nil {
		return err
	}
	return followUntilDone(ctx, sub)
}

func (a *app) logLine(e direktiv.LogEntry) string {
	level := e.Level
	switch e.Level {
	case direktiv.LevelError:
		level = a.out.styles.err.Render(level)
	case direktiv.LevelWarn:
		level = a.out.styles.warn.Render(level)
	case direktiv.LevelDebug:
		level = a.out.styles.muted.Render(level)
	}

	var b strings.Builder
	b.WriteString(a.out.styles.muted.Render(e.Time.Local().Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	if w := e.Workflow; w != nil && w.State != "" {
		b.WriteString(a.out.styles.header.Render(w.State))
		b.WriteByte(' ')
	}
	b.WriteString(e.Msg)
	if e.Error != nil {
		b.WriteString(": ")
		b.WriteString(*e.Error)
	}
	return b.String()
}

// =============================================================================
// Mirror
// =============================================================================

func newMirrorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Synchronise a namespace from its git mirror",
	}

	var followActivities bool
	activities := &cobra.Command{
		Use:   "activities",
		Short: "List sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			acts, err := a.client.ListMirrorActivities(ctx, a.namespace())
			if err != nil {
				return err
			}
			if !followActivities {
				rows := make([][]string, 0, len(acts))
				for _, act := range acts {
					rows = append(rows, a.activityRow(act))
				}
				return a.out.Result(acts, []string{"ID", "STATUS", "CREATED", "ENDED"}, rows)
			}

			printLines(a, acts, a.activityLine)
			sub, err := a.client.FollowMirrorActivities(a.namespace(), func(acts []direktiv.SyncActivity, added int) {
				printLines(a, tail(acts, added), a.activityLine)
			}, a.followOptions("mirror")...)
			if err != nil {
				return err
			}
			return followUntilDone(ctx, sub)
		},
	}
	activities.Flags().BoolVarP(&followActivities, "follow", "f", false, "keep printing new sync runs")

	var followLogs bool
	logs := &cobra.Command{
		Use:   "logs ACTIVITY",
		Short: "Print the log of one sync run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showLogs(cmd.Context(), direktiv.LogsQuery{Activity: args[0]}, followLogs)
		},
	}
	logs.Flags().BoolVarP(&followLogs, "follow", "f", false, "keep printing new lines")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Start a sync run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				act, err := a.client.SyncMirror(cmd.Context(), a.namespace())
				if err != nil {
					return err
				}
				if a.out.format == "json" {
					return a.out.JSON(act)
				}
				a.out.Success("sync %s %s", act.ID, act.Status)
				return nil
			},
		},
		activities,
		logs,
	)
	return cmd
}

func (a *app) activityRow(act direktiv.SyncActivity) []string {
	status := act.Status
	switch act.Status {
	case direktiv.SyncComplete:
		status = a.out.styles.success.Render(status)
	case direktiv.SyncFailed:
		status = a.out.styles.err.Render(status)
	}
	ended := "-"
	if act.Finished() {
		ended = formatTime(act.EndAt)
	}
	return []string{act.ID, status, formatTime(act.CreatedAt), ended}
}

func (a *app) activityLine(act direktiv.SyncActivity) string {
	return strings.Join(a.activityRow(act), "  ")
}
