// Package batch runs ingest sessions over many documents.
//
// An Orchestrator estimates the cost of a batch, refuses large batches until
// the caller confirms, then fans documents out to a bounded worker pool. Every
// document produces exactly one session record, and a failure in one
// document never aborts the others. Progress is streamed on a channel that
// closes when the session is finalized.
package batch
