package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tagsync/internal/semantic"
)

var (
	ErrExternalTool  = errors.New("external service error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	// ErrTransient marks a failure that may clear on retry.
	ErrTransient = errors.New("transient failure")
	// ErrPartialFailure marks a batch that finished with failed or skipped
	// documents.
	ErrPartialFailure = errors.New("partial failure")
)

// Process exit codes shared by the CLI commands.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitPartialFailure = 2
	ExitConfiguration  = 3
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a document error to the ingest record status persisted
// for it. Documents abandoned by cancellation are recorded as skipped.
func FailureStatus(err error) semantic.RecordStatus {
	switch {
	case err == nil:
		return semantic.RecordSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return semantic.RecordSkipped
	default:
		return semantic.RecordFailed
	}
}

// ExitCode maps a command error to its process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, ErrPartialFailure):
		return ExitPartialFailure
	default:
		return ExitFailure
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
