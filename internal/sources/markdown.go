package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"tagsync/internal/semantic"
	"tagsync/internal/textutil"
)

var (
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	wikilinkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	hashtagPattern  = regexp.MustCompile(`(?:^|\s)#([a-zA-Z][a-zA-Z0-9_/-]*)`)
	wordPattern     = regexp.MustCompile(`\w+`)
)

// ParseMarkdown splits a note into one segment per heading section. YAML
// frontmatter is parsed for metadata and never scanned for markers. Headings
// inside fenced code blocks do not start a section.
func ParseMarkdown(ref string, content []byte) (*Document, error) {
	text := strings.TrimPrefix(string(content), "\ufeff")
	frontmatter, body, bodyLine, err := splitFrontmatter(text)
	if err != nil {
		// Unparseable frontmatter is ordinary text.
		frontmatter, body, bodyLine = nil, text, 1
	}

	doc := &Document{Ref: ref, SourceType: semantic.SourceMarkdownNote}
	title := ""
	var (
		current   strings.Builder
		heading   string
		startLine = bodyLine
		inFence   bool
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			doc.Segments = append(doc.Segments, Segment{
				Text:      strings.TrimSuffix(current.String(), "\n"),
				Locator:   semantic.Locator{Heading: heading},
				FirstLine: startLine,
			})
		}
		current.Reset()
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lineNo := bodyLine + i
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
				flush()
				heading = textutil.NormalizeLabel(m[2])
				if title == "" && len(m[1]) == 1 {
					title = heading
				}
				startLine = lineNo
			}
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()

	note := &semantic.NoteMetadata{
		Title:       noteTitle(frontmatter, title),
		Frontmatter: frontmatter,
		Tags:        uniqueMatches(hashtagPattern, body),
		Links:       uniqueMatches(wikilinkPattern, body),
		WordCount:   len(wordPattern.FindAllStringIndex(body, -1)),
		ContentHash: contentHash(body),
	}
	doc.Metadata.Note = note
	return doc, nil
}

// splitFrontmatter separates a leading YAML block delimited by "---" lines.
// It returns the body and the 1-based line the body starts on.
func splitFrontmatter(text string) (map[string]any, string, int, error) {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil, text, 1, nil
	}
	lines := strings.SplitAfter(text, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r\n") != "---" {
			continue
		}
		raw := strings.Join(lines[1:i], "")
		body := strings.Join(lines[i+1:], "")
		var frontmatter map[string]any
		if err := yaml.Unmarshal([]byte(raw), &frontmatter); err != nil {
			return nil, "", 0, fmt.Errorf("parse frontmatter: %w", err)
		}
		return frontmatter, body, i + 2, nil
	}
	// No closing delimiter: the dashes are a thematic break.
	return nil, text, 1, nil
}

func noteTitle(frontmatter map[string]any, heading string) string {
	for _, key := range []string{"title", "name"} {
		if value, ok := frontmatter[key]; ok {
			if s := textutil.CleanCell(fmt.Sprint(value)); s != "" {
				return s
			}
		}
	}
	return heading
}

func uniqueMatches(pattern *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
