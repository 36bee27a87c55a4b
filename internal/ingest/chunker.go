package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"docchat/internal/retrieval"
)

const defaultSection = "General / Introduction"

// maxSectionRunes matches the width of the chunks.section column.
const maxSectionRunes = 255

// ChunkID is md5 over "{document}:{revision}:{content}", so re-ingesting the
// same revision yields the same ids.
func ChunkID(scope retrieval.Scope, content string) string {
	sum := md5.Sum([]byte(scope.DocumentID + ":" + scope.Revision + ":" + content))
	return hex.EncodeToString(sum[:])
}

type chunker struct {
	scope      retrieval.Scope
	sourceFile string
	section    string
	buffer     []string
	bufferPage int
	out        []retrieval.Chunk
}

// Chunk turns layout elements into section-aware chunks. Titles open a new
// section, tables produce one parent plus one child per data row, and
// running text is buffered until a sentence or list lead-in ends.
func Chunk(elements []Element, scope retrieval.Scope, sourceFile string) []retrieval.Chunk {
	c := &chunker{scope: scope, sourceFile: sourceFile, section: defaultSection, bufferPage: 1}
	for _, el := range elements {
		text := NormalizeNumbers(el.Text)
		switch el.Category {
		case CategoryTitle:
			c.flush()
			c.section = sectionLabel(text)
			c.buffer = append(c.buffer, text)
			c.bufferPage = el.Page
		case CategoryTable:
			c.flush()
			c.table(el)
		case CategoryNarrative, CategoryListItem:
			if len(c.buffer) == 0 {
				c.bufferPage = el.Page
			}
			c.buffer = append(c.buffer, text)
			if strings.HasSuffix(text, ".") || strings.HasSuffix(text, ":") {
				c.flush()
			}
		}
	}
	c.flush()
	return c.out
}

func (c *chunker) flush() {
	if len(c.buffer) == 0 {
		return
	}
	content := NormalizeNumbers(strings.TrimSpace(strings.Join(c.buffer, "\n")))
	c.buffer = c.buffer[:0]
	if content == "" {
		return
	}
	c.add(retrieval.Chunk{
		Content: "### Section: " + c.section + "\n" + content,
		Type:    retrieval.ChunkText,
		Page:    c.bufferPage,
	})
}

func (c *chunker) table(el Element) {
	rows := el.Table
	if len(rows) == 0 {
		rows = strings.Split(el.Text, "\n")
	}
	parent := c.add(retrieval.Chunk{
		Content: "### Table: " + c.section + "\n" + strings.Join(rows, "\n"),
		Type:    retrieval.ChunkParent,
		Page:    el.Page,
		BBox:    el.BBox,
	})
	if len(rows) <= 2 {
		return
	}
	header := strings.Join(rows[:2], "\n")
	for _, row := range rows[2:] {
		if strings.TrimSpace(row) == "" {
			continue
		}
		c.add(retrieval.Chunk{
			Content:  "Context: " + c.section + "\n" + header + "\n" + row,
			Type:     retrieval.ChunkChild,
			ParentID: parent.ID,
			Page:     el.Page,
			BBox:     el.BBox,
		})
	}
}

func (c *chunker) add(ch retrieval.Chunk) retrieval.Chunk {
	ch.ID = ChunkID(c.scope, ch.Content)
	ch.Section = c.section
	ch.SourceFile = c.sourceFile
	c.out = append(c.out, ch)
	return ch
}

func sectionLabel(title string) string {
	title = strings.TrimSpace(title)
	if r := []rune(title); len(r) > maxSectionRunes {
		return strings.TrimSpace(string(r[:maxSectionRunes]))
	}
	return title
}

// NormalizeNumbers repairs common OCR damage inside numbers: O between
// digits becomes 0, l or I between digits becomes 1, and digit groups split
// by spaces or tabs are joined.
func NormalizeNumbers(text string) string {
	if text == "" {
		return text
	}
	rs := []rune(text)
	out := make([]rune, 0, len(rs))
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		prevDigit := len(out) > 0 && unicode.IsDigit(out[len(out)-1])
		nextDigit := i+1 < len(rs) && unicode.IsDigit(rs[i+1])
		switch {
		case prevDigit && nextDigit && (r == 'O' || r == 'o'):
			out = append(out, '0')
		case prevDigit && nextDigit && (r == 'l' || r == 'I'):
			out = append(out, '1')
		case prevDigit && (r == ' ' || r == '\t'):
			j := i
			for j < len(rs) && (rs[j] == ' ' || rs[j] == '\t') {
				j++
			}
			if j < len(rs) && unicode.IsDigit(rs[j]) {
				i = j - 1
				continue
			}
			out = append(out, rs[i:j]...)
			i = j - 1
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
