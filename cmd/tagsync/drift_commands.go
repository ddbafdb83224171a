package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tagsync/internal/batch"
	"tagsync/internal/engine"
	"tagsync/internal/semantic"
	"tagsync/internal/store"
)

func newDriftCommand(ctx *commandContext) *cobra.Command {
	driftCmd := &cobra.Command{
		Use:   "drift",
		Short: "Review and resolve label drift",
	}
	driftCmd.AddCommand(newDriftListCommand(ctx))
	driftCmd.AddCommand(newDriftResolveCommand(ctx))
	return driftCmd
}

func newDriftListCommand(ctx *commandContext) *cobra.Command {
	var document string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drift entries (pending only unless --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.DriftFilter{Limit: limit}
			if document != "" {
				ref, err := documentRef(document)
				if err != nil {
					return err
				}
				filter.DocumentRef = ref
			}
			if !all {
				pending := semantic.ResolutionPending
				filter.Resolution = &pending
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				entries, err := eng.Store.ListDrift(c, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if entries == nil {
						entries = []semantic.DriftLogEntry{}
					}
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No drift entries")
					return nil
				}
				printDriftTable(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "Only entries for this document path or ref")
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved entries")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to list")
	return cmd
}

func newDriftResolveCommand(ctx *commandContext) *cobra.Command {
	var resolvedBy string
	var reingest bool
	cmd := &cobra.Command{
		Use:   "resolve <id>...",
		Short: "Accept pending drift entries",
		Long: "Accept pending drift entries so the next sync of their documents commits.\n" +
			"With --reingest the affected documents are ingested again immediately.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseDriftIDs(args)
			if err != nil {
				return err
			}
			by := strings.TrimSpace(resolvedBy)
			if by == "" {
				by = defaultResolver()
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				now := time.Now().UTC()
				resolved := make([]semantic.DriftLogEntry, 0, len(ids))
				var refs []string
				for _, id := range ids {
					entry, err := eng.Store.ResolveDrift(c, id, by, now)
					if err != nil {
						return err
					}
					resolved = append(resolved, entry)
					if !slices.Contains(refs, entry.DocumentRef) {
						refs = append(refs, entry.DocumentRef)
					}
				}
				if ctx.jsonOutput() && !reingest {
					return writeJSON(cmd, resolved)
				}
				if !ctx.jsonOutput() {
					for _, entry := range resolved {
						fmt.Fprintf(cmd.OutOrStdout(), "Drift %d resolved by %s\n", entry.ID, entry.ResolvedBy)
					}
				}
				if !reingest {
					return nil
				}
				paths := make([]string, 0, len(refs))
				for _, ref := range refs {
					paths = append(paths, filepath.FromSlash(ref))
				}
				return runBatch(c, cmd, ctx, eng, batch.FromPaths(paths), batchFlags{confirmed: true, trigger: "drift_resolve"})
			})
		},
	}
	cmd.Flags().StringVar(&resolvedBy, "by", "", "Resolver identity recorded on the entry (default $USER)")
	cmd.Flags().BoolVar(&reingest, "reingest", false, "Ingest the affected documents after resolving")
	return cmd
}

func parseDriftIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid drift id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func defaultResolver() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}

// documentRef maps a path argument onto the ref the store keys documents by.
func documentRef(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	return filepath.ToSlash(abs), nil
}
