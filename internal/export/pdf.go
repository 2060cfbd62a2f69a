// Package export 将CVE报告导出为PDF
package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/xerrors"

	"QianKunJing/internal/cvesearch"
	"QianKunJing/internal/model"
)

// 表格列宽(mm)，横向A4可用宽度约277
var columnWidths = []float64{32, 28, 28, 30, 30, 109, 20}

var columnTitles = []string{"ID", "Published", "Modified", "Publisher", "Product", "Summary", "CVSS"}

// severityRGB ColorFor返回值对应的填充色，transparent不填充
var severityRGB = map[string][3]int{
	"lightblue": {173, 216, 230},
	"yellow":    {255, 255, 0},
	"orange":    {255, 165, 0},
	"red":       {255, 0, 0},
}

type PDFExporter struct{}

func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ExportReport 生成PDF，内容按报告中的顺序输出
func (e *PDFExporter) ExportReport(report *model.Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("CVE Report", true)
	pdf.AddPage()

	e.addHeader(pdf, report)

	if report == nil || len(report.Records) == 0 {
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(0, 8, "No CVE data", "", 1, "C", false, 0, "")
	} else {
		e.addTable(pdf, report.Records, tr)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, xerrors.Errorf("生成PDF失败: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report *model.Report) {
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 12, "CVE Report", "", 1, "L", false, 0, "")

	if report == nil {
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, fmt.Sprintf("Scope: %s", report.Scope), "", 1, "L", false, 0, "")
	if !report.GeneratedAt.IsZero() {
		pdf.CellFormat(0, 6, "Generated: "+report.GeneratedAt.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Total: %d", len(report.Records)), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func (e *PDFExporter) addTable(pdf *gofpdf.Fpdf, records []model.CveRecord, tr func(string) string) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFillColor(0, 51, 102)
	for i, title := range columnTitles {
		pdf.CellFormat(columnWidths[i], 7, title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(0, 0, 0)
	for _, r := range records {
		summary := tr(html.UnescapeString(r.Summary))
		if len(summary) > 90 {
			summary = summary[:90] + "..."
		}

		cells := []string{r.ID, r.DatePublished, r.DateModified, tr(r.Vendor), tr(r.Product), summary}
		for i, text := range cells {
			pdf.CellFormat(columnWidths[i], 6, text, "1", 0, "L", false, 0, "")
		}

		fill := false
		if rgb, ok := severityRGB[cvesearch.ColorFor(r.CVSS)]; ok {
			pdf.SetFillColor(rgb[0], rgb[1], rgb[2])
			fill = true
		}
		pdf.SetFont("Arial", "B", 8)
		pdf.CellFormat(columnWidths[6], 6, fmt.Sprintf("%.1f", r.CVSS), "1", 1, "C", fill, 0, "")
		pdf.SetFont("Arial", "", 8)
	}
}
