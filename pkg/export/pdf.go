package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth  = 277.0
	lineHeight = 6.0
)

// PDFExporter renders datasets into a landscape A4 table.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render lays out the title, the summary lines and the table. Core fonts
// only cover cp1252, so other runes are substituted by the translator.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if err := checkShape(data); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, tr(data.Title), "", 1, "L", false, 0, "")
	}
	if len(data.Summary) > 0 {
		pdf.SetFont("Helvetica", "", 10)
		for _, line := range data.Summary {
			pdf.CellFormat(0, lineHeight, tr(line), "", 1, "L", false, 0, "")
		}
		pdf.Ln(3)
	}

	width := pageWidth / float64(len(data.Headers))
	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, h := range data.Headers {
			pdf.CellFormat(width, 7, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		lines := 1
		for _, cell := range row {
			if n := len(pdf.SplitLines([]byte(tr(cell)), width-2)); n > lines {
				lines = n
			}
		}
		h := float64(lines) * lineHeight
		if pdf.GetY()+h > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		x, y := pdf.GetXY()
		for i, cell := range row {
			pdf.Rect(x+float64(i)*width, y, width, h, "D")
			pdf.SetXY(x+float64(i)*width, y)
			pdf.MultiCell(width, lineHeight, tr(cell), "", "L", false)
		}
		pdf.SetXY(x, y+h)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
