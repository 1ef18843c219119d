package render

import (
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	marginMM      = 20
	headingPt     = 13
	bodyPt        = 11
	headingLineMM = 7
	bodyLineMM    = 5.5
	spacerMM      = 2
)

// PDF renders A4 pages with 2 cm margins using the core Helvetica font.
// Text is translated to cp1252, which covers German umlauts and the en dash
// used in timestamps.
type PDF struct{}

func (PDF) Extension() string { return ".pdf" }

func (PDF) Render(markdown, outputPath string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, _ := pdf.GetPageSize()
	width := pageWidth - 2*marginMM

	for _, line := range Parse(markdown) {
		switch line.Kind {
		case LineSpacer:
			pdf.Ln(spacerMM)
		case LineHeading:
			pdf.SetFont("Helvetica", "B", headingPt)
			pdf.MultiCell(width, headingLineMM, tr(line.Text), "", "L", false)
		default:
			pdf.SetFont("Helvetica", "", bodyPt)
			pdf.MultiCell(width, bodyLineMM, tr(line.Text), "", "L", false)
		}
	}

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return fmt.Errorf("write pdf %s: %w", outputPath, err)
	}
	return nil
}
