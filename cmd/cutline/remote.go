package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cutlinesdk "cutline/sdk/go"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions on a running server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := newClient().CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"session_id": id})
			}
			fmt.Println(id)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Sessions []struct {
					ID            string `json:"id"`
					CreatedAt     string `json:"created_at"`
					Tracks        int    `json:"tracks"`
					TotalDuration int    `json:"total_duration"`
					State         string `json:"status"`
				} `json:"sessions"`
			}
			if err := newClient().Call(cmd.Context(), "session.list", nil, &resp); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(resp)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.SetStyle(tableStyle())
			tw.AppendHeader(table.Row{"Session", "Created", "Tracks", "Frames", "Status"})
			for _, s := range resp.Sessions {
				tw.AppendRow(table.Row{s.ID, s.CreatedAt, s.Tracks, s.TotalDuration, s.State})
			}
			tw.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the editing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(status)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "execute <session-id>",
		Short: "Execute the next pending directive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().ExecuteNext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("%s %s: %s\n", res.DirectiveID, res.Kind, res.Message)
			return nil
		},
	})
	return cmd
}

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect session timelines",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show every track and clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tl, err := newClient().Timeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tl)
			}
			renderTimeline(tl)
			return nil
		},
	})
	return cmd
}

func renderTimeline(tl cutlinesdk.Timeline) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(tableStyle())
	tw.SetTitle(fmt.Sprintf("%s  %d fps  %s  %s", tl.SessionID, tl.FrameRate, tl.OverlapPolicy, timecode(tl.TotalDuration, tl.FrameRate)))
	tw.AppendHeader(table.Row{"Track", "Kind", "Item", "Source", "Start", "End", "Duration"})
	for _, tr := range tl.Tracks {
		if len(tr.Items) == 0 {
			tw.AppendRow(table.Row{tr.Name, tr.Kind, "-", "", "", "", ""})
			continue
		}
		for _, it := range tr.Items {
			tw.AppendRow(table.Row{
				tr.Name,
				it.Kind,
				shortID(it.ID),
				it.Source,
				timecode(it.Start, tl.FrameRate),
				timecode(it.Start+it.Duration, tl.FrameRate),
				timecode(it.Duration, tl.FrameRate),
			})
		}
		tw.AppendSeparator()
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("undo %d", tl.UndoDepth), fmt.Sprintf("redo %d", tl.RedoDepth)})
	tw.Render()
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke any method and print its result",
		Example: `  cutline call session.create
  cutline call edit.create_track '{"session_id":"...","name":"V1","kind":"video"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params must be a JSON object")
				}
				params = json.RawMessage(args[1])
			}
			var out json.RawMessage
			var p any
			if params != nil {
				p = params
			}
			if err := newClient().Call(cmd.Context(), args[0], p, &out); err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(out, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}
