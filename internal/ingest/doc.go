// Package ingest runs documents through the synchronization pipeline.
//
// A document's markers are decoded per segment, resolved through the identity
// registry's tombstones, deduplicated, compared against the last snapshot,
// attributed to their locators, and handed to the reconciler for one atomic
// commit. Preview stops before the commit.
//
// Discover expands files and directories into the documents to ingest,
// honouring the configured extensions and doublestar exclude patterns.
package ingest
