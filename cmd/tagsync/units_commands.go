package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tagsync/internal/engine"
	"tagsync/internal/semantic"
	"tagsync/internal/store"
)

func newUnitsCommand(ctx *commandContext) *cobra.Command {
	unitsCmd := &cobra.Command{
		Use:     "units",
		Aliases: []string{"unit"},
		Short:   "Inspect canonical semantic units",
	}
	unitsCmd.AddCommand(newUnitsShowCommand(ctx))
	unitsCmd.AddCommand(newUnitsChainCommand(ctx))
	unitsCmd.AddCommand(newUnitsSubtreeCommand(ctx))
	unitsCmd.AddCommand(newUnitsSearchCommand(ctx))
	return unitsCmd
}

func newUnitsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show a unit with its provenance and ingest history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				unit, err := eng.Store.GetUnit(c, id)
				if err != nil {
					return err
				}
				prov, err := eng.Store.Provenance(c, unit.Unit.ID)
				if err != nil {
					return err
				}
				history, err := eng.Store.RecordsForUnit(c, unit.Unit.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"unit": unit, "provenance": prov, "history": history})
				}
				out := cmd.OutOrStdout()
				if unit.Unit.ID != id {
					fmt.Fprintf(out, "%s was merged into %s\n", id, unit.Unit.ID)
				}
				fmt.Fprintf(out, "ID:      %s\n", unit.Unit.ID)
				fmt.Fprintf(out, "Kind:    %s\n", unit.Unit.Kind)
				fmt.Fprintf(out, "Label:   %s\n", unit.Unit.Label)
				if unit.Unit.HasParent() {
					fmt.Fprintf(out, "Parent:  %s\n", unit.Unit.ParentID)
				}
				fmt.Fprintf(out, "State:   %s\n", unit.State)
				fmt.Fprintf(out, "First:   %s\n", formatTimestamp(unit.FirstIngestedAt))
				fmt.Fprintf(out, "Updated: %s\n", formatTimestamp(unit.UpdatedAt))
				if len(prov) > 0 {
					rows := make([][]string, 0, len(prov))
					for _, p := range prov {
						rows = append(rows, []string{p.DocumentRef, p.SourceType.String(), p.Locator.String(), p.IngestedBy, formatTimestamp(p.IngestedAt)})
					}
					fmt.Fprintln(out, renderTable([]string{"Document", "Source", "Location", "By", "Ingested"}, rows, nil))
				}
				if len(history) > 0 {
					rows := make([][]string, 0, len(history))
					for _, rec := range history {
						rows = append(rows, []string{rec.SessionID, rec.DocumentRef, string(rec.Status), formatTimestamp(rec.CompletedAt)})
					}
					fmt.Fprintln(out, renderTable([]string{"Session", "Document", "Status", "Completed"}, rows, nil))
				}
				return nil
			})
		},
	}
}

func newUnitsChainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <unit-id>",
		Short: "Print the UUID chain from a unit up to its root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				units, err := eng.Store.Chain(c, id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, units)
				}
				// Root first reads like a path.
				for i := len(units) - 1; i >= 0; i-- {
					depth := len(units) - 1 - i
					printUnitLine(cmd.OutOrStdout(), depth, units[i])
				}
				return nil
			})
		},
	}
}

func newUnitsSubtreeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "subtree <unit-id>",
		Short: "Print a unit and every descendant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				units, err := eng.Store.Subtree(c, id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, units)
				}
				printTree(cmd.OutOrStdout(), units)
				return nil
			})
		},
	}
}

func newUnitsSearchCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find active units whose label contains text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind semantic.Kind
			if strings.TrimSpace(kindFlag) != "" {
				parsed, ok := semantic.ParseKind(strings.ToUpper(strings.TrimSpace(kindFlag)))
				if !ok {
					return fmt.Errorf("unknown unit kind %q", kindFlag)
				}
				kind = parsed
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				units, err := eng.Store.SearchUnits(c, args[0], kind, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if units == nil {
						units = []store.StoredUnit{}
					}
					return writeJSON(cmd, units)
				}
				if len(units) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching units")
					return nil
				}
				rows := make([][]string, 0, len(units))
				for _, u := range units {
					rows = append(rows, []string{u.Unit.ID.String(), u.Unit.Kind.String(), u.Unit.Label})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Kind", "Label"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", "Restrict to one unit kind (e.g. CLAIM)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum units to list")
	return cmd
}

func parseUnitID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid unit id %q: %w", arg, err)
	}
	return id, nil
}

func printUnitLine(out io.Writer, depth int, u store.StoredUnit) {
	fmt.Fprintf(out, "%s%s %s %q\n", strings.Repeat("  ", depth), u.Unit.ID, u.Unit.Kind, u.Unit.Label)
}

// printTree renders units, which arrive parents before children, as an
// indented outline.
func printTree(out io.Writer, units []store.StoredUnit) {
	if len(units) == 0 {
		return
	}
	children := make(map[uuid.UUID][]store.StoredUnit)
	for _, u := range units[1:] {
		children[u.Unit.ParentID] = append(children[u.Unit.ParentID], u)
	}
	var walk func(u store.StoredUnit, depth int)
	walk = func(u store.StoredUnit, depth int) {
		printUnitLine(out, depth, u)
		for _, child := range children[u.Unit.ID] {
			walk(child, depth+1)
		}
	}
	walk(units[0], 0)
}
