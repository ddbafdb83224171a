// Package semantic defines the data model shared by the provenance and
// synchronization pipeline.
//
// It owns the closed enumerations (unit kinds, source types, drift
// resolutions, session and record statuses), the SemanticUnit and
// ProvenanceRecord value types, the audit artifacts written per ingest
// session, and the typed error taxonomy every stage reports through.
//
// Enumerations are small integer types with explicit token tables so every
// consumer switches over a fixed set; adding a kind or source means touching
// the table here and the switch statements that the compiler and tests point
// at, never a free-form string.
package semantic
