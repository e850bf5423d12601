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
	"strings"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
)

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Send, replay and follow CloudEvents",
	}
	cmd.AddCommand(
		newEventsListCmd(a),
		newEventsSendCmd(a),
		&cobra.Command{
			Use:   "replay ID",
			Short: "Replay a received event",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client.ReplayEvent(cmd.Context(), a.namespace(), args[0]); err != nil {
					return err
				}
				a.out.Success("event %s replayed", args[0])
				return nil
			},
		},
		newEventListenersCmd(a),
		newEventsFollowCmd(a),
	)
	return cmd
}

func eventRow(r direktiv.EventRecord) []string {
	return []string{r.Event.ID, r.Event.Type, r.Event.Source, formatTime(r.ReceivedAt)}
}

func newEventsListCmd(a *app) *cobra.Command {
	var q direktiv.EventsQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List received events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.client.ListEvents(cmd.Context(), a.namespace(), q)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(page.Data))
			for _, r := range page.Data {
				rows = append(rows, eventRow(r))
			}
			return a.out.Result(page, []string{"ID", "TYPE", "SOURCE", "RECEIVED"}, rows)
		},
	}
	cmd.Flags().StringVar(&q.EventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&q.Before, "before", "", "page backwards from this cursor")
	return cmd
}

func newEventsSendCmd(a *app) *cobra.Command {
	var (
		source  string
		subject string
		data    string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "send TYPE",
		Short: "Broadcast a CloudEvent to the namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			switch {
			case data != "" && file != "":
				return usageError(fmt.Errorf("pass either --data or --data-file, not both"))
			case data != "":
				payload = []byte(data)
			case file != "":
				b, err := a.readValue(nil, file)
				if err != nil {
					return err
				}
				payload = b
			}
			if len(payload) > 0 && !json.Valid(payload) {
				return usageError(fmt.Errorf("event data is not valid JSON"))
			}

			ev := direktiv.NewCloudEvent(args[0], source, payload)
			ev.Subject = subject
			if err := a.client.BroadcastEvent(cmd.Context(), a.namespace(), ev); err != nil {
				return err
			}
			if a.out.format == "json" {
				return a.out.JSON(ev)
			}
			a.out.Success("event %s sent (%s)", ev.ID, ev.Type)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&source, "source", "direktivctl", "event source")
	f.StringVar(&subject, "subject", "", "event subject")
	f.StringVar(&data, "data", "", "JSON event data")
	f.StringVar(&file, "data-file", "", "read JSON event data from a file")
	return cmd
}

func newEventListenersCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "listeners",
		Short: "List the workflows waiting for events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ls, err := a.client.ListEventListeners(cmd.Context(), a.namespace(), limit, offset)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ls))
			for _, l := range ls {
				target := l.TriggerWorkflow
				if target == "" {
					target = l.TriggerInstance
				}
				rows = append(rows, []string{l.ID, l.TriggerType, orDash(target), strings.Join(l.ListeningForEventTypes, ",")})
			}
			return a.out.Result(ls, []string{"ID", "TRIGGER", "TARGET", "EVENT TYPES"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of listeners")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many listeners")
	return cmd
}

func newEventsFollowCmd(a *app) *cobra.Command {
	var eventType string
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Print events as they are received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := a.client.FollowEvents(a.namespace(), eventType, func(events []direktiv.EventRecord, added int) {
				printLines(a, tail(events, added), func(r direktiv.EventRecord) string {
					return strings.Join(eventRow(r), "  ")
				})
			}, a.followOptions("events")...)
			if err != nil {
				return err
			}
			return followUntilDone(cmd.Context(), sub)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type")
	return cmd
}
