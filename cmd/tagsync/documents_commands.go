package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tagsync/internal/engine"
	"tagsync/internal/store"
)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Inspect synchronized documents",
	}
	docsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List synchronized documents and their snapshot versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				docs, err := eng.Store.Documents(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if docs == nil {
						docs = []store.DocumentState{}
					}
					return writeJSON(cmd, docs)
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No synchronized documents")
					return nil
				}
				rows := make([][]string, 0, len(docs))
				for _, d := range docs {
					rows = append(rows, []string{
						d.DocumentRef,
						d.SourceType.String(),
						strconv.FormatInt(d.Version, 10),
						strconv.Itoa(d.UnitCount),
						formatTimestamp(d.CommittedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Document", "Source", "Version", "Units", "Committed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	})
	docsCmd.AddCommand(&cobra.Command{
		Use:   "show <path>",
		Short: "Show a document's snapshot, metadata and ingest history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := documentRef(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				state, err := eng.Store.Document(c, ref)
				if err != nil {
					return err
				}
				meta, err := eng.Store.Metadata(c, ref)
				if err != nil {
					return err
				}
				history, err := eng.Store.DocumentHistory(c, ref, 10)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"document": state, "metadata": meta, "history": history})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Document:   %s\n", state.DocumentRef)
				fmt.Fprintf(out, "Source:     %s\n", state.SourceType)
				fmt.Fprintf(out, "Version:    %d\n", state.Version)
				fmt.Fprintf(out, "Commit:     %s\n", state.CommitHash)
				fmt.Fprintf(out, "Units:      %d (%d provenance records)\n", state.UnitCount, state.ProvenanceCount)
				fmt.Fprintf(out, "Committed:  %s\n", formatTimestamp(state.CommittedAt))
				if meta.Note != nil {
					fmt.Fprintf(out, "Title:      %s\n", meta.Note.Title)
					fmt.Fprintf(out, "Words:      %d\n", meta.Note.WordCount)
				}
				for _, table := range meta.Tables {
					fmt.Fprintf(out, "Table %d:    %d rows x %d columns %s\n", table.Index, table.Rows, table.Columns, table.Caption)
				}
				for _, sheet := range meta.Sheets {
					fmt.Fprintf(out, "Sheet:      %s (%d rows x %d columns)\n", sheet.Name, sheet.Rows, sheet.Columns)
				}
				if len(history) > 0 {
					printRecordTable(out, history)
				}
				return nil
			})
		},
	})
	return docsCmd
}
