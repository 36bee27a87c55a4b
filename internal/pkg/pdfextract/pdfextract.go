// Package pdfextract reads positioned text out of a PDF, one page at a time,
// keeping enough layout (cell positions, font size) to tell headings and
// tables from running text.
package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// cellGap is the horizontal gap, in points, that separates two table cells
// on one row.
const cellGap = 12.0

type Cell struct {
	Text string
	X    float64
	W    float64
}

type Line struct {
	Y        float64
	FontSize float64
	Cells    []Cell
}

func (l Line) Text() string {
	parts := make([]string, 0, len(l.Cells))
	for _, c := range l.Cells {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

type Page struct {
	Number int
	Lines  []Line
}

// Text is the page text, one line per row.
func (p Page) Text() string {
	var b strings.Builder
	for i, l := range p.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text())
	}
	return b.String()
}

// ExtractPages reads r fully and returns the pages that carry text. A PDF
// with no extractable text yields no pages and no error.
func ExtractPages(r io.Reader) ([]Page, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("read page %d failed: %w", i, err)
		}
		page := Page{Number: i}
		for _, row := range rows {
			if line, ok := buildLine(row); ok {
				page.Lines = append(page.Lines, line)
			}
		}
		if len(page.Lines) > 0 {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// buildLine merges the glyph runs of one row into cells, starting a new cell
// wherever the horizontal gap exceeds cellGap.
func buildLine(row *pdf.Row) (Line, bool) {
	texts := append([]pdf.Text(nil), row.Content...)
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].X < texts[j].X })

	line := Line{Y: float64(row.Position)}
	var cur *Cell
	end := 0.0
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		line.FontSize = max(line.FontSize, t.FontSize)
		if cur == nil || t.X-end > cellGap {
			line.Cells = append(line.Cells, Cell{X: t.X})
			cur = &line.Cells[len(line.Cells)-1]
		} else if t.X-end > t.FontSize*0.2 && !strings.HasSuffix(cur.Text, " ") && t.S != " " {
			cur.Text += " "
		}
		cur.Text += t.S
		end = t.X + t.W
		cur.W = end - cur.X
	}

	cells := line.Cells[:0]
	for _, c := range line.Cells {
		c.Text = strings.Join(strings.Fields(c.Text), " ")
		if c.Text != "" {
			cells = append(cells, c)
		}
	}
	line.Cells = cells
	return line, len(cells) > 0
}
