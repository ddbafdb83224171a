package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"tagsync/internal/tagcodec"
)

// CommitHash fingerprints the content of a commit request. Timestamps are
// excluded so re-ingesting an unchanged document yields the same hash.
func CommitHash(req Request) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "doc\x00%s\x00%s\n", req.DocumentRef, req.SourceType)

	unitHashes := make([]string, 0, len(req.Units))
	for _, u := range req.Units {
		unitHashes = append(unitHashes, tagcodec.Hash(u))
	}
	slices.Sort(unitHashes)
	writeLines(h, "unit", unitHashes)

	prov := make([]string, 0, len(req.Provenance))
	for _, rec := range req.Provenance {
		prov = append(prov, strings.Join([]string{rec.UnitID.String(), rec.SourceType.String(), rec.Locator.String(), rec.IngestedBy}, "\x00"))
	}
	slices.Sort(prov)
	writeLines(h, "prov", prov)

	merges := make([]string, 0, len(req.Merges))
	for _, plan := range req.Merges {
		merges = append(merges, plan.Retired.String()+">"+plan.Canonical.String())
	}
	slices.Sort(merges)
	writeLines(h, "merge", merges)

	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return "", fmt.Errorf("hash metadata: %w", err)
	}
	fmt.Fprintf(h, "meta\x00%s\n", meta)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeLines(w io.Writer, tag string, lines []string) {
	for _, line := range lines {
		fmt.Fprintf(w, "%s\x00%s\n", tag, line)
	}
}
