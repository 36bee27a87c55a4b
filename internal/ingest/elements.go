package ingest

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"docchat/internal/pkg/pdfextract"
)

type Category string

const (
	CategoryTitle     Category = "Title"
	CategoryTable     Category = "Table"
	CategoryNarrative Category = "NarrativeText"
	CategoryListItem  Category = "ListItem"
)

// Element is one layout block of a parsed page. Table elements carry their
// rows as markdown lines, header and separator first.
type Element struct {
	Page     int
	Category Category
	Text     string
	Table    []string
	BBox     string
}

// Parser turns a source file into ordered layout elements.
type Parser interface {
	Parse(r io.Reader) ([]Element, error)
}

var (
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
	listMarker      = regexp.MustCompile(`^([-•*▪]|\(?[a-z0-9]{1,2}\))\s+`)
)

const (
	maxTitleWords = 12
	titleSizeGain = 1.15
)

// PDFParser classifies the positioned lines of a PDF into elements.
type PDFParser struct{}

func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

func (PDFParser) Parse(r io.Reader) ([]Element, error) {
	pages, err := pdfextract.ExtractPages(r)
	if err != nil {
		return nil, fmt.Errorf("parse pdf failed: %w", err)
	}
	return ElementsFromPages(pages), nil
}

// ElementsFromPages runs the layout heuristics: runs of two or more
// multi-cell lines form a table, short headline-looking lines are titles,
// everything else is narrative or list text.
func ElementsFromPages(pages []pdfextract.Page) []Element {
	body := bodyFontSize(pages)
	var out []Element
	for _, page := range pages {
		lines := page.Lines
		for i := 0; i < len(lines); {
			j := i
			for j < len(lines) && len(lines[j].Cells) > 1 {
				j++
			}
			if j-i >= 2 {
				out = append(out, tableElement(page.Number, lines[i:j]))
				i = j
				continue
			}

			line := lines[i]
			text := line.Text()
			el := Element{Page: page.Number, Text: text, BBox: lineBox(line)}
			switch {
			case isTitle(line, text, body):
				el.Category = CategoryTitle
			case listMarker.MatchString(text):
				el.Category = CategoryListItem
			default:
				el.Category = CategoryNarrative
			}
			out = append(out, el)
			i++
		}
	}
	return out
}

func isTitle(line pdfextract.Line, text string, body float64) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > maxTitleWords {
		return false
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, ",") {
		return false
	}
	if body > 0 && line.FontSize >= body*titleSizeGain {
		return true
	}
	if numberedHeading.MatchString(text) && len(words) <= 8 {
		return true
	}
	return isUpperHeading(text)
}

func isUpperHeading(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 4
}

// bodyFontSize is the median line font size across the document.
func bodyFontSize(pages []pdfextract.Page) float64 {
	var sizes []float64
	for _, p := range pages {
		for _, l := range p.Lines {
			if l.FontSize > 0 {
				sizes = append(sizes, l.FontSize)
			}
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	slices.Sort(sizes)
	return sizes[len(sizes)/2]
}

func tableElement(page int, lines []pdfextract.Line) Element {
	width := 0
	for _, l := range lines {
		width = max(width, len(l.Cells))
	}
	rows := make([]string, 0, len(lines)+1)
	texts := make([]string, 0, len(lines))
	for i, l := range lines {
		cells := make([]string, width)
		for k, c := range l.Cells {
			cells[k] = strings.ReplaceAll(c.Text, "|", "/")
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		texts = append(texts, l.Text())
		if i == 0 {
			rows = append(rows, "|"+strings.Repeat(" --- |", width))
		}
	}
	return Element{
		Page:     page,
		Category: CategoryTable,
		Text:     strings.Join(texts, "\n"),
		Table:    rows,
		BBox:     boxOf(lines),
	}
}

func lineBox(l pdfextract.Line) string {
	return boxOf([]pdfextract.Line{l})
}

// boxOf is "x0,y0,x1,y1" in page points.
func boxOf(lines []pdfextract.Line) string {
	if len(lines) == 0 || len(lines[0].Cells) == 0 {
		return ""
	}
	x0, x1 := lines[0].Cells[0].X, 0.0
	y0, y1 := lines[0].Y, lines[0].Y
	for _, l := range lines {
		y0 = min(y0, l.Y)
		y1 = max(y1, l.Y+l.FontSize)
		for _, c := range l.Cells {
			x0 = min(x0, c.X)
			x1 = max(x1, c.X+c.W)
		}
	}
	return fmt.Sprintf("%.1f,%.1f,%.1f,%.1f", x0, y0, x1, y1)
}
