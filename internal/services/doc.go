// Package services defines shared utilities consumed by the ingest pipeline,
// the watch service, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp document references, session IDs, stage
//     names, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent ingest record statuses and process exit codes.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
