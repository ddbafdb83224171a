package sources

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"tagsync/internal/semantic"
)

const claimMarker = `%%tag::CLAIM::5f0c6d3e-8a4b-4c1d-9e2f-0a1b2c3d4e5f::"Water boils at 100C"::%%`

func TestDetect(t *testing.T) {
	tests := []struct {
		path string
		want semantic.SourceType
		ok   bool
	}{
		{"notes/a.md", semantic.SourceMarkdownNote, true},
		{"notes/a.MARKDOWN", semantic.SourceMarkdownNote, true},
		{"page.htm", semantic.SourceHTMLTable, true},
		{"data.tsv", semantic.SourceSpreadsheet, true},
		{"book.xlsm", semantic.SourceSpreadsheet, true},
		{"image.png", semantic.SourceUnknown, false},
		{"README", semantic.SourceUnknown, false},
	}
	for _, tt := range tests {
		got, ok := Detect(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("Detect(%q) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseMarkdownSectionsAndMetadata(t *testing.T) {
	content := strings.Join([]string{
		"---",
		"title: Boiling Points",
		"aliases: [water]",
		"---",
		"Intro text with #physics and [[Thermodynamics|thermo]].",
		"",
		"# Water",
		"",
		"Fact: " + claimMarker,
		"```",
		"# not a heading",
		"```",
		"## Details #physics #lab/notes",
		"See [[Thermodynamics]] and [[Pressure]].",
	}, "\n")

	doc, err := ParseMarkdown("notes/water.md", []byte(content))
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if doc.SourceType != semantic.SourceMarkdownNote {
		t.Fatalf("source type = %v", doc.SourceType)
	}
	if len(doc.Segments) != 3 {
		t.Fatalf("expected 3 sections, got %d: %+v", len(doc.Segments), doc.Segments)
	}
	if doc.Segments[0].FirstLine != 5 || doc.Segments[0].Locator.Heading != "" {
		t.Fatalf("unexpected intro segment: %+v", doc.Segments[0])
	}
	water := doc.Segments[1]
	if water.Locator.Heading != "Water" || water.FirstLine != 7 {
		t.Fatalf("unexpected water segment: %+v", water)
	}
	if !strings.Contains(water.Text, claimMarker) || !strings.Contains(water.Text, "# not a heading") {
		t.Fatalf("water segment lost content: %q", water.Text)
	}
	if loc := water.Locate(3); loc.Line != 9 || loc.Heading != "Water" {
		t.Fatalf("Locate(3) = %+v, want line 9 under Water", loc)
	}
	if doc.Segments[2].Locator.Heading != "Details #physics #lab/notes" {
		t.Fatalf("unexpected details heading %q", doc.Segments[2].Locator.Heading)
	}

	note := doc.Metadata.Note
	if note == nil {
		t.Fatal("expected note metadata")
	}
	if note.Title != "Boiling Points" {
		t.Fatalf("title = %q", note.Title)
	}
	if got := strings.Join(note.Links, ","); got != "Thermodynamics,Pressure" {
		t.Fatalf("links = %q", got)
	}
	if got := strings.Join(note.Tags, ","); got != "physics,lab/notes" {
		t.Fatalf("tags = %q", got)
	}
	if note.WordCount == 0 || len(note.ContentHash) != 64 {
		t.Fatalf("unexpected counts: words=%d hash=%q", note.WordCount, note.ContentHash)
	}
	if _, ok := note.Frontmatter["aliases"]; !ok {
		t.Fatalf("frontmatter not parsed: %+v", note.Frontmatter)
	}
}

func TestParseMarkdownTitleFallsBackToHeading(t *testing.T) {
	doc, err := ParseMarkdown("n.md", []byte("---\nbroken: [\n---\n# First\n\n## Second\n"))
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if doc.Metadata.Note.Title != "First" {
		t.Fatalf("title = %q, want First", doc.Metadata.Note.Title)
	}
	if doc.Metadata.Note.Frontmatter != nil {
		t.Fatalf("broken frontmatter should be ignored, got %+v", doc.Metadata.Note.Frontmatter)
	}
}

func TestParseHTMLTables(t *testing.T) {
	page := `<html><body>
<h2>Summary</h2>
<p>Lead ` + claimMarker + `</p>
<table>
  <caption> Results </caption>
  <thead><tr><th>Name</th><th>Name</th><th></th></tr></thead>
  <tbody>
    <tr><td>alpha</td><td>` + claimMarker + `</td><td>1</td></tr>
    <tr><td> </td><td>NaN</td><td></td></tr>
    <tr><td>beta</td><td>b</td><td>2</td></tr>
  </tbody>
</table>
<table>
  <tr><td>x</td><td>y</td></tr>
</table>
</body></html>`

	doc, err := ParseHTML("page.html", []byte(page))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if len(doc.Metadata.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(doc.Metadata.Tables))
	}
	first := doc.Metadata.Tables[0]
	if first.Index != 1 || first.Caption != "Results" || first.Rows != 2 || first.Columns != 3 {
		t.Fatalf("unexpected table metadata: %+v", first)
	}
	if got := strings.Join(first.Headers, ","); got != "Name,Name_2,Column_3" {
		t.Fatalf("headers = %q", got)
	}
	second := doc.Metadata.Tables[1]
	if got := strings.Join(second.Headers, ","); got != "Column_1,Column_2" || second.Rows != 1 {
		t.Fatalf("unexpected second table: %+v", second)
	}

	var cell, prose *Segment
	for i := range doc.Segments {
		seg := &doc.Segments[i]
		if !strings.Contains(seg.Text, claimMarker) {
			continue
		}
		if seg.Locator.Table > 0 {
			cell = seg
		} else {
			prose = seg
		}
	}
	if cell == nil || cell.Locator != (semantic.Locator{Table: 1, Row: 1, Column: 2}) {
		t.Fatalf("unexpected cell segment: %+v", cell)
	}
	if prose == nil || prose.Locator.Heading != "Summary" {
		t.Fatalf("unexpected prose segment: %+v", prose)
	}
}

func TestParseDelimited(t *testing.T) {
	content := "Claim,Source\n" + claimMarker + ",lab\n,\nplain,book\n"
	doc, err := Parse("data/claims.csv", []byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Size != int64(len(content)) {
		t.Fatalf("size = %d", doc.Size)
	}
	if len(doc.Metadata.Sheets) != 1 {
		t.Fatalf("expected one sheet, got %d", len(doc.Metadata.Sheets))
	}
	sheet := doc.Metadata.Sheets[0]
	if sheet.Name != "claims" || sheet.Rows != 2 || sheet.Columns != 2 {
		t.Fatalf("unexpected sheet metadata: %+v", sheet)
	}
	found := false
	for _, seg := range doc.Segments {
		if seg.Text == claimMarker {
			found = true
			if seg.Locator != (semantic.Locator{Sheet: "claims", Row: 2, Column: 1}) {
				t.Fatalf("unexpected locator %+v", seg.Locator)
			}
		}
	}
	if !found {
		t.Fatalf("marker cell not found in %+v", doc.Segments)
	}
}

func TestParseTSV(t *testing.T) {
	doc, err := Parse("terms.tsv", []byte("Term\tNote\nsaid \"x\"\tok\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Segments[2].Text != `said "x"` {
		t.Fatalf("unexpected cell %q", doc.Segments[2].Text)
	}
}

func TestParseWorkbook(t *testing.T) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Claims"); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	for cell, value := range map[string]string{"A1": "Claim", "B1": "Note", "A2": claimMarker, "B2": "checked"} {
		if err := f.SetCellValue("Claims", cell, value); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	doc, err := Parse("book.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Metadata.Sheets) != 2 {
		t.Fatalf("expected 2 sheets, got %+v", doc.Metadata.Sheets)
	}
	claims := doc.Metadata.Sheets[0]
	if claims.Name != "Claims" || claims.Rows != 1 || strings.Join(claims.Headers, ",") != "Claim,Note" {
		t.Fatalf("unexpected sheet metadata: %+v", claims)
	}
	var located *semantic.Locator
	for _, seg := range doc.Segments {
		if seg.Text == claimMarker {
			loc := seg.Locator
			located = &loc
		}
	}
	if located == nil || *located != (semantic.Locator{Sheet: "Claims", Row: 2, Column: 1}) {
		t.Fatalf("unexpected marker locator %+v", located)
	}
}

func TestLoadRejectsUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte{0xff}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Parse("x.pdf", bytes.Repeat([]byte("a"), 4)); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported from Parse, got %v", err)
	}
}
