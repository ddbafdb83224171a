// Package config loads, normalizes, and validates tagsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TAGSYNC_DATA_DIR and OPENAI_API_KEY. The Config type centralizes every knob
// the CLI and the watch service need: where the canonical store lives, how
// many documents ingest in parallel, how drift is classified, and how commits
// are retried.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
