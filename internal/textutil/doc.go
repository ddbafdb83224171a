// Package textutil normalizes and compares unit labels.
//
// Labels are cleaned before hashing so that visually identical text in
// different Unicode forms or with stray whitespace produces the same canonical
// marker. Fingerprints provide a token-bag comparison used to spot duplicate
// units and to grade label refinements during drift resolution.
package textutil
