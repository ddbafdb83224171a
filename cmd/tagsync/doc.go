// Package main hosts the tagsync CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into batch
// ingests, drift review, session and unit inspection, classifier proposals,
// the long-running watch service, and configuration scaffolding. It
// centralizes configuration resolution and engine construction so
// subcommands can focus on presentation.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
