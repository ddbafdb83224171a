// Package classifier turns AI classification output into canonical markers.
//
// The model is treated as an untrusted producer. Its JSON payload is decoded
// field by field; any proposal with a missing, mistyped, or unknown field is
// rejected with a semantic.InvalidProposalError instead of being repaired.
// Accepted proposals receive ids from the identity registry and are rendered
// as markers the user can paste into a document, where they are ingested like
// any other unit.
//
// # Payload
//
// The producer returns either an array of proposals or an object with a
// "proposals" array. Each proposal is an object:
//
//	{"kind": "CLAIM", "label": "Water boils at 100C", "parent": 0, "confidence": 0.8}
//
// parent is optional and is either the index of an earlier proposal in the
// same payload or the canonical id of a unit already in the registry.
//
// # Entry Points
//
// NewOpenAIProducer: rate limited OpenAI-compatible chat producer.
// Validate: decode and check a raw payload.
// Classifier.Classify: produce, validate, allocate ids, render markers.
package classifier
