package render

import (
	"fmt"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const fontName = "Helvetica"

// DOCX renders the same layout as a Word document. Page geometry is left to
// the library defaults.
type DOCX struct{}

func (DOCX) Extension() string { return ".docx" }

func (DOCX) Render(markdown, outputPath string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}

	for _, line := range Parse(markdown) {
		p := doc.AddParagraph("")
		switch line.Kind {
		case LineSpacer:
		case LineHeading:
			addRun(p, line.Text, headingPt).Bold(true)
		default:
			addRun(p, line.Text, bodyPt)
		}
	}

	if err := doc.SaveTo(outputPath); err != nil {
		return fmt.Errorf("write docx %s: %w", outputPath, err)
	}
	return nil
}

func addRun(p *docx.Paragraph, text string, size uint64) *docx.Run {
	return p.AddText(text).Font(fontName).Size(size).Color("000000")
}
