// Package store persists the canonical semantic state in SQLite: units,
// provenance, identity tombstones, per-document snapshots, drift logs, ingest
// sessions, and channel metadata.
//
// Every document commit runs in one write transaction so a failure leaves the
// store exactly as it was. Contention is retried briefly inside the store;
// failures to reach the database surface as semantic.StoreUnavailableError so
// the reconciler can retry them with backoff.
package store
