// Package syncwatch keeps the canonical store in step with documents on disk.
//
// A Service watches the configured roots with fsnotify, debounces bursts of
// events, and re-ingests changed documents through the same pipeline the
// batch commands use. A scheduled rescan catches changes the watcher missed.
// Re-entrant triggers for one document are coalesced so at most one sync per
// document runs at a time. Content hashes of synced files are remembered for
// a while so touching a file without changing it costs no store work. Only
// one service may run against a data directory; a file lock enforces it.
package syncwatch
