// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
)

func newInstancesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"inst"},
		Short:   "Run workflows and inspect their instances",
	}
	cmd.AddCommand(
		newInstancesListCmd(a),
		newInstanceGetCmd(a),
		newRunCmd(a),
		&cobra.Command{
			Use:   "cancel ID",
			Short: "Cancel a pending instance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.confirm("cancel instance " + args[0]); err != nil {
					return err
				}
				inst, err := a.client.CancelInstance(cmd.Context(), a.namespace(), args[0])
				if err != nil {
					return err
				}
				a.out.Success("instance %s %s", inst.ID, inst.Status)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) statusText(status string) string {
	switch status {
	case direktiv.InstanceComplete:
		return a.out.styles.success.Render(status)
	case direktiv.InstancePending:
		return a.out.styles.warn.Render(status)
	default:
		return a.out.styles.err.Render(status)
	}
}

func newInstancesListCmd(a *app) *cobra.Command {
	var q direktiv.InstancesQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.client.ListInstances(cmd.Context(), a.namespace(), q)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(page.Data))
			for _, i := range page.Data {
				rows = append(rows, []string{i.ID, i.WorkflowPath, a.statusText(i.Status), formatTime(i.CreatedAt), formatTimePtr(i.EndedAt)})
			}
			if err := a.out.Result(page, []string{"ID", "WORKFLOW", "STATUS", "CREATED", "ENDED"}, rows); err != nil {
				return err
			}
			if a.out.format != "json" && page.Meta.Total > len(page.Data) {
				a.out.Line("%s", a.out.styles.muted.Render(
					"showing "+strconv.Itoa(len(page.Data))+" of "+strconv.Itoa(page.Meta.Total)))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&q.Limit, "limit", 20, "page size")
	f.IntVar(&q.Offset, "offset", 0, "skip this many instances")
	f.StringVar(&q.Status, "status", "", "only instances with this status")
	f.StringVar(&q.Path, "path", "", "only instances of this workflow")
	return cmd
}

func newInstanceGetCmd(a *app) *cobra.Command {
	var input, output bool
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show an instance, or its input or output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ns, id := cmd.Context(), a.namespace(), args[0]
			if input && output {
				return usageError(fmt.Errorf("pass either --input or --output"))
			}
			if input || output {
				fetch := a.client.InstanceOutput
				if input {
					fetch = a.client.InstanceInput
				}
				d, err := fetch(ctx, ns, id)
				if err != nil {
					return err
				}
				raw, err := d.Decode()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(a.stdout, string(raw))
				return err
			}

			inst, err := a.client.GetInstance(ctx, ns, id)
			if err != nil {
				return err
			}
			if a.out.format == "json" {
				return a.out.JSON(inst)
			}
			return printInstance(a, inst)
		},
	}
	cmd.Flags().BoolVar(&input, "input", false, "print the instance input")
	cmd.Flags().BoolVar(&output, "output", false, "print the instance output")
	return cmd
}

func printInstance(a *app, inst direktiv.Instance) error {
	rows := [][]string{
		{"ID", inst.ID},
		{"Workflow", inst.WorkflowPath},
		{"Status", a.statusText(inst.Status)},
		{"Invoker", orDash(inst.Invoker)},
		{"Created", formatTime(inst.CreatedAt)},
		{"Ended", formatTimePtr(inst.EndedAt)},
	}
	if inst.ErrorCode != nil || inst.ErrorMessage != nil {
		rows = append(rows, []string{"Error", strings.TrimSpace(deref(inst.ErrorCode) + " " + deref(inst.ErrorMessage))})
	}
	return a.out.Table([]string{"FIELD", "VALUE"}, rows)
}

func newRunCmd(a *app) *cobra.Command {
	var (
		inputFile string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "run PATH",
		Short: "Start a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input []byte
			if inputFile != "" {
				b, err := a.readValue(nil, inputFile)
				if err != nil {
					return err
				}
				if !json.Valid(b) {
					return usageError(fmt.Errorf("%s is not valid JSON", inputFile))
				}
				input = b
			}

			ctx := cmd.Context()
			inst, err := a.client.RunWorkflow(ctx, a.namespace(), args[0], input)
			if err != nil {
				return err
			}
			if wait {
				if inst, err = a.client.WaitInstance(ctx, a.namespace(), inst.ID, nil); err != nil {
					return err
				}
			}
			if a.out.format == "json" {
				return a.out.JSON(inst)
			}
			a.out.Success("instance %s %s", inst.ID, a.statusText(inst.Status))
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputFile, "input-file", "f", "", "JSON input for the workflow")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the instance finishes")
	return cmd
}
