package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/pkg/pdfextract"
)

func line(y, size float64, cells ...string) pdfextract.Line {
	l := pdfextract.Line{Y: y, FontSize: size}
	x := 50.0
	for _, c := range cells {
		l.Cells = append(l.Cells, pdfextract.Cell{Text: c, X: x, W: 40})
		x += 100
	}
	return l
}

func TestElementsFromPages(t *testing.T) {
	pages := []pdfextract.Page{{
		Number: 1,
		Lines: []pdfextract.Line{
			line(700, 16, "Basis of Design"),
			line(680, 10, "This document covers the plant utilities and their limits."),
			line(660, 10, "3.1 Cooling water"),
			line(640, 10, "- supply temperature 25 C"),
			line(620, 10, "Parameter", "Value"),
			line(610, 10, "Pressure", "5 bar"),
			line(600, 10, "Flow", "20 m3/h"),
			line(580, 10, "GENERAL NOTES"),
		},
	}}

	els := ElementsFromPages(pages)
	require.Len(t, els, 6)

	assert.Equal(t, CategoryTitle, els[0].Category)
	assert.Equal(t, CategoryNarrative, els[1].Category)
	assert.Equal(t, CategoryTitle, els[2].Category)
	assert.Equal(t, CategoryListItem, els[3].Category)

	table := els[4]
	assert.Equal(t, CategoryTable, table.Category)
	assert.Equal(t, []string{
		"| Parameter | Value |",
		"| --- | --- |",
		"| Pressure | 5 bar |",
		"| Flow | 20 m3/h |",
	}, table.Table)
	assert.NotEmpty(t, table.BBox)

	assert.Equal(t, CategoryTitle, els[5].Category)
	for _, el := range els {
		assert.Equal(t, 1, el.Page)
	}
}

func TestSingleMultiCellLineIsNotATable(t *testing.T) {
	pages := []pdfextract.Page{{Number: 2, Lines: []pdfextract.Line{
		line(700, 10, "Signed", "Date"),
		line(680, 10, "Approved for construction."),
	}}}
	els := ElementsFromPages(pages)
	require.Len(t, els, 2)
	assert.NotEqual(t, CategoryTable, els[0].Category)
	assert.Equal(t, "Signed Date", els[0].Text)
}
