package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tagsync/internal/engine"
	"tagsync/internal/services"
	"tagsync/internal/sources"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file|->",
		Short: "Ask the classifier for unit proposals and print their markers",
		Long: "Sends the document text (or stdin when the argument is -) to the configured\n" +
			"classifier. Accepted proposals get fresh unit ids and are printed as canonical\n" +
			"markers ready to paste into the document; nothing is stored until the document\n" +
			"is ingested.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readClassifyInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("nothing to classify: input is empty")
			}
			return ctx.withEngine(cmd, func(c context.Context, eng *engine.Engine) error {
				cl, err := eng.Classifier()
				if err != nil {
					return err
				}
				res, classifyErr := cl.Classify(c, text)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, res); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					if len(res.Proposals) > 0 {
						rows := make([][]string, 0, len(res.Proposals))
						for _, p := range res.Proposals {
							rows = append(rows, []string{
								strconv.Itoa(p.Index),
								p.Unit.Kind.String(),
								p.Unit.Label,
								strconv.FormatFloat(p.Confidence, 'f', 2, 64),
								p.Marker,
							})
						}
						fmt.Fprintln(out, renderTable([]string{"#", "Kind", "Label", "Confidence", "Marker"}, rows, []columnAlignment{alignRight}))
					}
					for _, reason := range res.Rejected {
						fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %s\n", reason)
					}
				}
				switch {
				case classifyErr == nil:
					return nil
				case len(res.Proposals) > 0:
					return fmt.Errorf("%d proposals rejected: %w", len(res.Rejected), services.ErrPartialFailure)
				default:
					return classifyErr
				}
			})
		},
	}
}

func readClassifyInput(stdin io.Reader, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	if sources.Supported(arg) {
		doc, err := sources.Load(arg)
		if err != nil {
			return "", err
		}
		return doc.Text(), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", arg, err)
	}
	return string(data), nil
}
