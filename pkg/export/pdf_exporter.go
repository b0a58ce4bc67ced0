package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// InvoiceLine is one ledger entry row on a rendered invoice.
type InvoiceLine struct {
	TransactionID string
	OrderID       string
	Requester     string
	Description   string
	Amount        float64
}

// InvoiceDocument carries everything needed to render one invoice.
type InvoiceDocument struct {
	InvoiceID   string
	RequestType string
	Scope       string
	GeneratedAt time.Time
	Lines       []InvoiceLine
	Total       float64
}

// PDFExporter renders invoice documents as tabular PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the invoice PDF.
func (e *PDFExporter) Render(doc InvoiceDocument) ([]byte, error) {
	if doc.InvoiceID == "" {
		return nil, fmt.Errorf("invoice id is required")
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("invoice %s has no lines", doc.InvoiceID)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, fmt.Sprintf("INVOICE %s", doc.InvoiceID), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Type: %s    Scope: %s    Generated: %s",
		doc.RequestType, doc.Scope, doc.GeneratedAt.Format("2006-01-02")), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	headers := []string{"Transaction", "Order", "Requester", "Description", "Amount"}
	widths := []float64{30, 30, 45, 60, 25}

	pdf.SetFont("Arial", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, line := range doc.Lines {
		pdf.CellFormat(widths[0], 7, line.TransactionID, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 7, line.OrderID, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[2], 7, line.Requester, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[3], 7, line.Description, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprintf("%.2f", line.Amount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 8, "TOTAL", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[4], 8, fmt.Sprintf("%.2f", doc.Total), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}
