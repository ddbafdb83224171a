// Package preflight provides readiness checks for the store, filesystem
// paths and the classifier endpoint that tagsync depends on.
//
// The CLI "tagsync doctor" command runs RunAll and renders the results; the
// individual checks are exported so other commands can reuse them.
//
// Each check is gated by its config toggle: disabled features are skipped.
package preflight
