// Package identity owns the unit identifier space.
//
// A Registry allocates ids, validates kind and parent assignments against the
// NoteRoot > Paragraph > Sentence > OntologyTerm forest, and records tombstone
// mappings when two ids turn out to name the same unit. Every component that
// acts on an id resolves it through Registry.Resolve first.
//
// State is split across a fixed number of shards. A unit's shard is chosen by
// hashing its lineage root, the id of the top-most ancestor at the time the
// unit was first seen, so documents that share no lineage never contend. The
// registry is an explicit value handed to its users; there is no package-level
// instance.
package identity
