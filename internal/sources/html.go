package sources

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"tagsync/internal/semantic"
	"tagsync/internal/textutil"
)

// ParseHTML extracts every table's cells as segments located by table, row
// and column. Text outside tables is kept as prose segments under the nearest
// preceding heading.
func ParseHTML(ref string, content []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: parse html: %w", ref, err)
	}
	doc := &Document{Ref: ref, SourceType: semantic.SourceHTMLTable}
	w := htmlWalker{doc: doc}
	w.walk(root)
	return doc, nil
}

type htmlWalker struct {
	doc     *Document
	tables  int
	heading string
}

func (w *htmlWalker) walk(n *html.Node) {
	switch {
	case n.Type == html.ElementNode && n.DataAtom == atom.Table:
		w.tables++
		w.table(n, w.tables)
		return
	case n.Type == html.ElementNode && isHeading(n.DataAtom):
		w.heading = textutil.NormalizeLabel(nodeText(n))
	case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
		return
	case n.Type == html.TextNode:
		if strings.TrimSpace(n.Data) != "" {
			w.doc.Segments = append(w.doc.Segments, Segment{
				Text:    n.Data,
				Locator: semantic.Locator{Heading: w.heading},
			})
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

type htmlRow struct {
	cells  []string
	nodes  []*html.Node
	header bool
	inHead bool
}

func (w *htmlWalker) table(n *html.Node, index int) {
	var (
		caption string
		rows    []htmlRow
	)
	var collect func(*html.Node, bool)
	collect = func(node *html.Node, inHead bool) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Caption:
				caption = textutil.CleanCell(nodeText(c))
			case atom.Thead:
				collect(c, true)
			case atom.Tbody, atom.Tfoot:
				collect(c, false)
			case atom.Tr:
				rows = append(rows, rowOf(c, inHead))
			}
		}
	}
	collect(n, false)

	var headerRow []string
	data := rows
	switch {
	case len(rows) > 0 && rows[0].inHead:
		headerRow = rows[0].cells
		data = rows[1:]
	case len(rows) > 0 && rows[0].header:
		headerRow = rows[0].cells
		data = rows[1:]
	}

	columns := len(headerRow)
	for _, row := range data {
		columns = max(columns, len(row.cells))
	}

	rowNo := 0
	for _, row := range data {
		if row.inHead || allEmpty(row.cells) {
			continue
		}
		rowNo++
		for col, cell := range row.cells {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			w.doc.Segments = append(w.doc.Segments, Segment{
				Text:    cell,
				Locator: semantic.Locator{Table: index, Row: rowNo, Column: col + 1},
			})
		}
	}
	// Markers in header cells are located on row zero.
	for col, cell := range headerRow {
		if strings.Contains(cell, "%%") {
			w.doc.Segments = append(w.doc.Segments, Segment{
				Text:    cell,
				Locator: semantic.Locator{Table: index, Column: col + 1},
			})
		}
	}

	w.doc.Metadata.Tables = append(w.doc.Metadata.Tables, semantic.TableMetadata{
		Index:   index,
		Caption: caption,
		Headers: normalizeHeaders(headerRow, columns),
		Rows:    rowNo,
		Columns: columns,
	})

	// Nested tables are numbered after their parent.
	for _, row := range rows {
		for _, cell := range row.nodes {
			w.nested(cell)
		}
	}
}

func (w *htmlWalker) nested(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Table {
			w.tables++
			w.table(c, w.tables)
			continue
		}
		w.nested(c)
	}
}

func rowOf(tr *html.Node, inHead bool) htmlRow {
	row := htmlRow{inHead: inHead, header: true}
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if c.DataAtom == atom.Td {
			row.header = false
		}
		row.cells = append(row.cells, nodeText(c))
		row.nodes = append(row.nodes, c)
	}
	if len(row.cells) == 0 {
		row.header = false
	}
	return row
}

// nodeText concatenates the text under n, skipping nested tables.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch {
		case node.Type == html.TextNode:
			b.WriteString(node.Data)
		case node.Type == html.ElementNode && node.DataAtom == atom.Table:
			return
		case node.Type == html.ElementNode && node.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isHeading(a atom.Atom) bool {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func allEmpty(cells []string) bool {
	for _, cell := range cells {
		if textutil.CleanCell(cell) != "" {
			return false
		}
	}
	return true
}

// normalizeHeaders cleans header names, fills blanks with Column_N and
// suffixes repeats with _2, _3 and so on.
func normalizeHeaders(raw []string, columns int) []string {
	if columns == 0 {
		return nil
	}
	out := make([]string, columns)
	seen := make(map[string]int, columns)
	for i := range columns {
		name := ""
		if i < len(raw) {
			name = textutil.CleanCell(raw[i])
		}
		if name == "" {
			name = "Column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name += "_" + strconv.Itoa(n)
		}
		out[i] = name
	}
	return out
}
