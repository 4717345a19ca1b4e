package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// Page geometry in millimetres on A4.
const (
	pdfMargin      = 14.0
	pdfBreakY      = 260.0
	pdfResumeY     = 20.0
	pdfBottomSpace = 15.0
	pdfFooterRise  = 8.0

	pdfLogoX     = pdfMargin
	pdfLogoY     = 10.0
	pdfLogoWidth = 25.0

	pdfLabelWidth = 40.0
	pdfCellPad    = 1.5
	pdfLineHeight = 3.4
	pdfTableFont  = 8.0

	pdfFont = "Helvetica"
)

func (e *Exporter) renderPDF(ctx context.Context, t *Table, title string, res *Result) ([]byte, error) {
	generated := e.now().In(e.loc)

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(e.compress)
	doc.SetCreationDate(generated)
	doc.SetTitle(title, true)
	doc.SetCreator(e.org, true)
	doc.SetMargins(pdfMargin, pdfResumeY, pdfMargin)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()

	w, h := doc.GetPageSize()
	l := &pdfLayout{doc: doc, w: w, h: h}

	branding, err := e.loadBranding(ctx)
	if err == nil && !l.brandedHeader(branding, e.org, generated) {
		err = errors.New("register branding image")
	}
	if err != nil {
		res.BrandingFallback = true
		e.logger.Warn("branding unavailable, using text header", zap.Error(err))
		l.textHeader(e.org)
	}
	l.separator()
	l.title(title)

	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.record(row)
		res.Blocks++
	}
	l.footers()

	if doc.Err() {
		return nil, doc.Error()
	}
	res.Pages = doc.PageCount()

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pdfLayout tracks the vertical cursor while drawing.
type pdfLayout struct {
	doc  *fpdf.Fpdf
	w, h float64
	y    float64
}

func (l *pdfLayout) newPage() {
	l.doc.AddPage()
	l.y = pdfResumeY
}

func (l *pdfLayout) bottom() float64 { return l.h - pdfBottomSpace }

func (l *pdfLayout) brandedHeader(b *Branding, org string, generated time.Time) bool {
	opts := fpdf.ImageOptions{ImageType: b.ImageType}
	info := l.doc.RegisterImageOptionsReader("branding", opts, bytes.NewReader(b.Image))
	if l.doc.Err() || info == nil {
		l.doc.ClearError()
		return false
	}
	logoH := float64(b.Height) / float64(b.Width) * pdfLogoWidth
	l.doc.ImageOptions("branding", pdfLogoX, pdfLogoY, pdfLogoWidth, logoH, false, opts, 0, "")

	textX := pdfMargin + pdfLogoWidth + 5
	l.doc.SetFont(pdfFont, "B", 12)
	l.doc.SetTextColor(30, 30, 30)
	l.doc.Text(textX, 18, pdfText(org))

	l.doc.SetFont(pdfFont, "", 8)
	l.doc.SetTextColor(100, 100, 100)
	l.doc.Text(textX, 23, pdfText("Generated: "+generated.Format(DateLayout)))

	l.y = math.Max(25, pdfLogoY+logoH+5)
	return true
}

func (l *pdfLayout) textHeader(org string) {
	l.doc.SetFont(pdfFont, "B", 14)
	l.doc.SetTextColor(30, 30, 30)
	l.doc.Text(pdfMargin, 18, pdfText(org))
	l.y = 25
}

func (l *pdfLayout) separator() {
	l.doc.SetDrawColor(200, 200, 200)
	l.doc.SetLineWidth(0.1)
	l.doc.Line(pdfMargin, l.y, l.w-pdfMargin, l.y)
	l.y += 8
}

func (l *pdfLayout) title(title string) {
	if title == "" {
		return
	}
	l.doc.SetFont(pdfFont, "B", 11)
	l.doc.SetTextColor(40, 40, 40)
	l.doc.Text(pdfMargin, l.y, pdfText(title))
	l.y += 8
}

// record draws the shaded sub-header and the field table for one row.
func (l *pdfLayout) record(row Row) {
	if l.y > pdfBreakY {
		l.newPage()
	}

	l.doc.SetFillColor(245, 247, 250)
	l.doc.Rect(pdfMargin, l.y-4, l.w-2*pdfMargin, 10, "F")

	l.doc.SetFont(pdfFont, "B", 10)
	l.doc.SetTextColor(40, 40, 40)
	l.doc.Text(pdfMargin+2, l.y+2, pdfText(fmt.Sprintf("%d. %s", row.Seq, row.Client)))

	date := pdfText(row.Date)
	l.doc.SetFont(pdfFont, "", 8)
	l.doc.SetTextColor(100, 100, 100)
	l.doc.Text(l.w-pdfMargin-2-l.doc.GetStringWidth(date), l.y+2, date)

	l.y += 8
	if len(row.Fields) == 0 {
		l.y += 5
		return
	}
	l.table(row.Fields)
	l.y += 8
}

func (l *pdfLayout) table(fields []Field) {
	valueW := l.w - 2*pdfMargin - pdfLabelWidth
	l.doc.SetDrawColor(220, 220, 220)
	l.doc.SetLineWidth(0.1)
	for _, f := range fields {
		l.doc.SetFont(pdfFont, "B", pdfTableFont)
		labels := l.wrap(f.Label, pdfLabelWidth-2*pdfCellPad)
		l.doc.SetFont(pdfFont, "", pdfTableFont)
		values := l.wrap(f.Value, valueW-2*pdfCellPad)
		l.tableRow(labels, values, valueW)
	}
}

// tableRow draws one label/value pair, continuing on a new page when the
// wrapped text does not fit.
func (l *pdfLayout) tableRow(labels, values []string, valueW float64) {
	for li, vi := 0, 0; li < len(labels) || vi < len(values); {
		fit := int((l.bottom() - l.y - 2*pdfCellPad) / pdfLineHeight)
		if fit < 1 {
			l.newPage()
			continue
		}
		n := min(max(len(labels)-li, len(values)-vi), fit)
		rowH := float64(n)*pdfLineHeight + 2*pdfCellPad

		l.doc.SetFillColor(252, 252, 252)
		l.doc.Rect(pdfMargin, l.y, pdfLabelWidth, rowH, "FD")
		l.doc.Rect(pdfMargin+pdfLabelWidth, l.y, valueW, rowH, "D")

		l.doc.SetFont(pdfFont, "B", pdfTableFont)
		l.doc.SetTextColor(60, 60, 60)
		li = l.lines(labels, li, n, pdfMargin+pdfCellPad)

		l.doc.SetFont(pdfFont, "", pdfTableFont)
		l.doc.SetTextColor(20, 20, 20)
		vi = l.lines(values, vi, n, pdfMargin+pdfLabelWidth+pdfCellPad)

		l.y += rowH
	}
}

func (l *pdfLayout) lines(lines []string, from, n int, x float64) int {
	to := min(from+n, len(lines))
	for i := from; i < to; i++ {
		baseline := l.y + pdfCellPad + float64(i-from)*pdfLineHeight + pdfLineHeight*0.75
		l.doc.Text(x, baseline, lines[i])
	}
	return to
}

// wrap encodes s and splits it into lines no wider than width using the
// current font.
func (l *pdfLayout) wrap(s string, width float64) []string {
	var out []string
	for _, p := range splitParagraphs(s) {
		enc := pdfText(p)
		if enc == "" {
			out = append(out, "")
			continue
		}
		for _, line := range l.doc.SplitLines([]byte(enc), width) {
			out = append(out, string(line))
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

// footers stamps "Page X of Y" on every page once the page count is final.
func (l *pdfLayout) footers() {
	n := l.doc.PageCount()
	for i := 1; i <= n; i++ {
		l.doc.SetPage(i)
		// SetFont skips unchanged state, so toggle the style to force a
		// font selection into the revisited page's stream.
		l.doc.SetFont(pdfFont, "B", 7)
		l.doc.SetFont(pdfFont, "", 7)
		l.doc.SetTextColor(150, 150, 150)
		s := fmt.Sprintf("Page %d of %d", i, n)
		l.doc.Text((l.w-l.doc.GetStringWidth(s))/2, l.h-pdfFooterRise, s)
	}
}
