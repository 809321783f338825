// Package export produces XLSX workbooks from the ledger. It reads only
// validated records; the pipeline never depends on this package.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/ledger"
)

// Service is a tiny façade over the ledger that produces XLSX bytes.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewService(store ledger.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportXLSX returns a workbook with two sheets: one row per logical record
// and one row per line item. If only from is provided the window runs
// from..today; if neither is provided all records are exported.
func (s *Service) ExportXLSX(from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		// inclusive end of day
		t := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := time.Now().UTC()
		toDate = &t
	}

	all, err := s.store.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	recs := make([]entity.ValidatedRecord, 0, len(all))
	for _, r := range all {
		if fromDate != nil && r.CompletedAt.Before(*fromDate) {
			continue
		}
		if toDate != nil && r.CompletedAt.After(*toDate) {
			continue
		}
		recs = append(recs, r)
	}

	f := excelize.NewFile()
	if err := s.writeRecordsSheet(f, recs); err != nil {
		return nil, err
	}
	if err := s.writeItemsSheet(f, recs); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"records", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeRecordsSheet(f *excelize.File, recs []entity.ValidatedRecord) error {
	const sheet = "Records"
	if err := ensureSheet(f, sheet); err != nil {
		return err
	}

	headers := []string{
		"Document ID",
		"Type",
		"Supplier",
		"Invoice Number",
		"Invoice Date",
		"Currency",
		"Subtotal",
		"Tax",
		"Grand Total",
		"Items",
		"Confidence",
		"Math Score",
		"Needs Review",
		"Strategy",
		"Completed At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.DocumentID.String())
		write(2, string(r.DocumentType))
		write(3, r.SupplierName)
		write(4, r.InvoiceNumber)
		write(5, r.InvoiceDate)
		write(6, r.CurrencyCode)
		writeAmount(write, 7, r.Subtotal)
		writeAmount(write, 8, r.TaxAmount)
		writeAmount(write, 9, r.GrandTotal)
		write(10, len(r.LineItems))
		write(11, r.OverallConfidence)
		write(12, r.MathIntegrityScore)
		write(13, r.NeedsReview)
		write(14, string(r.Strategy))
		write(15, r.CompletedAt.Format(time.RFC3339))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "C", "C", 28)
	_ = f.SetColWidth(sheet, "D", "E", 16)
	_ = f.SetColWidth(sheet, "O", "O", 22)
	return nil
}

func (s *Service) writeItemsSheet(f *excelize.File, recs []entity.ValidatedRecord) error {
	const sheet = "Line Items"
	if err := ensureSheet(f, sheet); err != nil {
		return err
	}

	headers := []string{
		"Document ID",
		"Supplier",
		"Description",
		"Quantity",
		"Unit Price",
		"Line Total",
		"Tax Rate",
		"Page",
		"Confidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		for _, li := range r.LineItems {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(sheet, cell, v)
			}
			write(1, r.DocumentID.String())
			write(2, r.SupplierName)
			write(3, truncate(li.Description, 140))
			writeAmount(write, 4, li.Quantity)
			writeAmount(write, 5, li.UnitPrice)
			writeAmount(write, 6, li.LineTotal)
			writeAmount(write, 7, li.TaxRate)
			write(8, li.PageIndex+1)
			write(9, li.Confidence)
			row++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "C", 48)
	return nil
}

func ensureSheet(f *excelize.File, sheet string) error {
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	return nil
}

func writeAmount(write func(int, any), col int, v *float64) {
	if v == nil {
		write(col, "")
		return
	}
	write(col, *v)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
