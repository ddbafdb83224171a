package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"tagsync/internal/batch"
	"tagsync/internal/engine"
	"tagsync/internal/ingest"
	"tagsync/internal/provenance"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
	"tagsync/internal/sources"
)

type batchFlags struct {
	confirmed bool
	trigger   string
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.confirmed, "yes", "y", false, "Proceed even when the batch exceeds ingest.confirm_threshold_bytes")
	cmd.Flags().StringVar(&f.trigger, "trigger", "cli", "Trigger recorded on the ingest session")
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents into the canonical store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				return runBatch(c, cmd, ctx, eng, batch.FromPaths(args), flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestDirCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "ingest-dir <dir>...",
		Short: "Ingest every supported document under the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				paths, err := ingest.Discover(args, eng.Filter())
				if err != nil {
					return err
				}
				if len(paths) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No supported documents found")
					return nil
				}
				return runBatch(c, cmd, ctx, eng, batch.FromPaths(paths), flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func runBatch(c context.Context, cmd *cobra.Command, ctx *commandContext, eng *engine.Engine, docs []batch.Document, flags batchFlags) error {
	signalCtx, cancel := signal.NotifyContext(c, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, err := eng.Orchestrator().RunBatch(signalCtx, docs, batch.Options{Confirmed: flags.confirmed, Trigger: flags.trigger})
	if err != nil {
		var confirm *batch.ConfirmationError
		if errors.As(err, &confirm) {
			return fmt.Errorf("%w (re-run with --yes)", err)
		}
		return err
	}

	stderr := cmd.ErrOrStderr()
	interactive := !ctx.jsonOutput() && isTerminal(stderr)
	var records []semantic.IngestRecord
	for p := range run.Progress() {
		records = append(records, p.Record)
		if !ctx.jsonOutput() {
			printProgress(stderr, p, interactive)
		}
	}
	if interactive {
		fmt.Fprintln(stderr)
	}

	session, waitErr := run.Wait()
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, map[string]any{"session": session, "records": records}); err != nil {
			return err
		}
	} else {
		printSessionSummary(cmd.OutOrStdout(), session, records)
	}
	if waitErr != nil {
		return waitErr
	}
	switch session.Status {
	case semantic.SessionCompleted:
		return nil
	case semantic.SessionPartial:
		return fmt.Errorf("session %s: %d of %d documents failed or skipped: %w",
			session.ID, session.Failed+session.Skipped, session.DocumentCount, services.ErrPartialFailure)
	default:
		return fmt.Errorf("session %s %s", session.ID, session.Status)
	}
}

func printProgress(out io.Writer, p batch.Progress, interactive bool) {
	line := fmt.Sprintf("[%d/%d] %s %s", p.Done, p.Total, p.Record.Status, p.Record.DocumentRef)
	if interactive {
		fmt.Fprintf(out, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(out, line)
}

func printSessionSummary(out io.Writer, session semantic.IngestSession, records []semantic.IngestRecord) {
	fmt.Fprintf(out, "Session %s: %s (%d succeeded, %d failed, %d skipped)\n",
		session.ID, session.Status, session.Succeeded, session.Failed, session.Skipped)
	var rows [][]string
	for _, rec := range records {
		if rec.Status == semantic.RecordSucceeded {
			continue
		}
		rows = append(rows, []string{rec.DocumentRef, string(rec.Status), rec.ErrorKind, rec.Error})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Document", "Status", "Kind", "Error"}, rows, nil))
	}
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var envelopes bool
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Show the units, provenance and drift a document would commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := sources.Load(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				res, err := eng.Pipeline.Preview(c, doc)
				if envelopes {
					data, merr := provenance.MarshalEnvelopes(res.Envelopes())
					if merr != nil {
						return merr
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				if ctx.jsonOutput() {
					if jerr := writeJSON(cmd, previewJSON(res, err)); jerr != nil {
						return jerr
					}
					return err
				}
				printPreview(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&envelopes, "envelopes", false, "Print provenance envelopes as JSON")
	return cmd
}

func previewJSON(res ingest.Result, err error) map[string]any {
	out := map[string]any{
		"document_ref": res.DocumentRef,
		"source_type":  res.SourceType,
		"units":        res.Units,
		"provenance":   res.Provenance,
		"drift":        res.Report.Entries,
		"fresh":        len(res.Report.Fresh),
		"merges":       res.Merges,
	}
	if err != nil {
		out["error_kind"] = semantic.ErrorKindOf(err)
		out["errors"] = semantic.Details(err)
	}
	return out
}

func printPreview(out io.Writer, res ingest.Result) {
	fmt.Fprintf(out, "Document: %s (%s)\n", res.DocumentRef, res.SourceType)
	locators := make(map[string]string, len(res.Provenance))
	for _, p := range res.Provenance {
		if _, ok := locators[p.UnitID.String()]; !ok {
			locators[p.UnitID.String()] = p.Locator.String()
		}
	}
	rows := make([][]string, 0, len(res.Units))
	for _, u := range res.Units {
		parent := ""
		if u.HasParent() {
			parent = u.ParentID.String()
		}
		rows = append(rows, []string{u.ID.String(), u.Kind.String(), u.Label, parent, locators[u.ID.String()]})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"ID", "Kind", "Label", "Parent", "Location"}, rows, nil))
	}
	if len(res.Report.Entries) > 0 {
		fmt.Fprintln(out, "Drift:")
		printDriftTable(out, res.Report.Entries)
	}
	fmt.Fprintf(out, "%d units, %d new, %d merges\n", len(res.Units), len(res.Report.Fresh), len(res.Merges))
}

func printDriftTable(out io.Writer, entries []semantic.DriftLogEntry) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		change := fmt.Sprintf("%q -> %q", e.PreviousLabel, e.NewLabel)
		if e.Removed {
			change = fmt.Sprintf("%q removed", e.PreviousLabel)
		}
		id := ""
		if e.ID > 0 {
			id = strconv.FormatInt(e.ID, 10)
		}
		rows = append(rows, []string{id, e.DocumentRef, e.UnitID.String(), change, e.Resolution.String(), e.Reason})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Document", "Unit", "Change", "Resolution", "Reason"}, rows, []columnAlignment{alignRight}))
}
