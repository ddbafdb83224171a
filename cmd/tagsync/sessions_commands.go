package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tagsync/internal/engine"
	"tagsync/internal/semantic"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect ingest sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	return sessionsCmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent ingest sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				sessions, err := eng.Store.ListSessions(c, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if sessions == nil {
						sessions = []semantic.IngestSession{}
					}
					return writeJSON(cmd, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No ingest sessions")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						s.ID,
						formatTimestamp(s.StartedAt),
						string(s.Status),
						s.Trigger,
						strconv.Itoa(s.DocumentCount),
						strconv.Itoa(s.Succeeded),
						strconv.Itoa(s.Failed),
						strconv.Itoa(s.Skipped),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Session", "Started", "Status", "Trigger", "Docs", "OK", "Failed", "Skipped"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	return cmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session report with every document record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				session, err := eng.Store.GetSession(c, args[0])
				if err != nil {
					return err
				}
				records, err := eng.Store.ListRecords(c, session.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if records == nil {
						records = []semantic.IngestRecord{}
					}
					return writeJSON(cmd, map[string]any{"session": session, "records": records})
				}
				printSessionReport(cmd.OutOrStdout(), session, records)
				return nil
			})
		},
	}
}

func printSessionReport(out io.Writer, session semantic.IngestSession, records []semantic.IngestRecord) {
	fmt.Fprintf(out, "Session:   %s\n", session.ID)
	fmt.Fprintf(out, "Status:    %s\n", session.Status)
	fmt.Fprintf(out, "Trigger:   %s\n", session.Trigger)
	fmt.Fprintf(out, "Started:   %s\n", formatTimestamp(session.StartedAt))
	if !session.CompletedAt.IsZero() {
		fmt.Fprintf(out, "Completed: %s (%s)\n", formatTimestamp(session.CompletedAt),
			session.CompletedAt.Sub(session.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(out, "Documents: %d (%d succeeded, %d failed, %d skipped, %d bytes)\n",
		session.DocumentCount, session.Succeeded, session.Failed, session.Skipped, session.CostBytes)
	if len(records) > 0 {
		printRecordTable(out, records)
	}
}

func printRecordTable(out io.Writer, records []semantic.IngestRecord) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		detail := rec.Error
		if rec.Status == semantic.RecordSucceeded {
			detail = fmt.Sprintf("%d units", len(rec.UnitIDs))
		}
		rows = append(rows, []string{rec.DocumentRef, string(rec.Status), rec.ErrorKind, detail})
	}
	fmt.Fprintln(out, renderTable([]string{"Document", "Status", "Kind", "Detail"}, rows, nil))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
