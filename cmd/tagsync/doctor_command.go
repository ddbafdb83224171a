package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"tagsync/internal/engine"
	"tagsync/internal/preflight"
	"tagsync/internal/store"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the store and the classifier endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var (
				results []preflight.Result
				stats   *store.Stats
			)
			openErr := ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				results = preflight.RunAll(c, cfg, eng.Store)
				if s, err := eng.Store.Stats(c); err == nil {
					stats = &s
				}
				return nil
			})
			if openErr != nil {
				results = preflight.RunAll(cmd.Context(), cfg, nil)
				results = append(results, preflight.Result{Name: "Engine", Detail: openErr.Error()})
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, map[string]any{"config_path": ctx.configPath, "checks": results, "stats": stats}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Config: %s\n", ctx.configPath)
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
				if stats != nil {
					printStats(cmd, *stats)
				}
			}
			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}

func printStats(cmd *cobra.Command, stats store.Stats) {
	states := make([]string, 0, len(stats.Units))
	for state := range stats.Units {
		states = append(states, state)
	}
	sort.Strings(states)
	rows := make([][]string, 0, len(states)+5)
	for _, state := range states {
		rows = append(rows, []string{"units (" + state + ")", strconv.Itoa(stats.Units[state])})
	}
	rows = append(rows,
		[]string{"documents", strconv.Itoa(stats.Documents)},
		[]string{"provenance records", strconv.Itoa(stats.Provenance)},
		[]string{"tombstones", strconv.Itoa(stats.Tombstones)},
		[]string{"pending drift", strconv.Itoa(stats.PendingDrift)},
		[]string{"sessions", strconv.Itoa(stats.Sessions)},
	)
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Store", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
