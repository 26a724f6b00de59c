package reports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const (
	bucketSheet   = "Buckets"
	metalSheet    = "Metals"
	movementSheet = "Movements"

	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// StockSummaryWorkbook renders the summary as a workbook. movements is keyed by bucket id;
// when it is empty the Movements sheet is left out.
func StockSummaryWorkbook(summary *workflow.StockSummary, movements map[int][]*models.StockMovement) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", bucketSheet); err != nil {
		return nil, err
	}

	headers := []interface{}{"Metal", "Stock Type", "Purity", "Location", "Quantity (g)", "Fine Weight (g)", "Unit Cost", "Rate Unit", "Total Cost", "Version"}
	if err := f.SetSheetRow(bucketSheet, "A1", &headers); err != nil {
		return nil, err
	}
	for i, b := range summary.Buckets {
		row := []interface{}{
			string(b.Key.MetalType),
			string(b.Key.StockType),
			string(b.Key.Purity),
			b.Key.Location,
			b.Quantity.InexactFloat64(),
			b.FineWeight.InexactFloat64(),
			b.UnitCost.InexactFloat64(),
			string(b.RateUnit),
			b.TotalCost.InexactFloat64(),
			b.Version,
		}
		if err := f.SetSheetRow(bucketSheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(metalSheet); err != nil {
		return nil, err
	}
	f.SetCellValue(metalSheet, "A1", "Metal")
	f.SetCellValue(metalSheet, "B1", "Quantity (g)")
	f.SetCellValue(metalSheet, "C1", "Fine Weight (g)")
	f.SetCellValue(metalSheet, "D1", "Total Value")
	f.SetCellValue(metalSheet, "E1", "Avg / Gram")
	f.SetCellValue(metalSheet, "F1", "Avg / Tola")
	f.SetCellValue(metalSheet, "G1", "Buckets")
	f.SetCellValue(metalSheet, "H1", "Negative Buckets")
	for i, m := range summary.Metals {
		r := fmt.Sprint(i + 2)
		f.SetCellValue(metalSheet, "A"+r, string(m.MetalType))
		f.SetCellValue(metalSheet, "B"+r, m.Quantity.InexactFloat64())
		f.SetCellValue(metalSheet, "C"+r, m.FineWeight.InexactFloat64())
		f.SetCellValue(metalSheet, "D"+r, m.TotalValue.InexactFloat64())
		f.SetCellValue(metalSheet, "E"+r, m.WeightedAvgPerGram.InexactFloat64())
		f.SetCellValue(metalSheet, "F"+r, m.WeightedAvgPerTola.InexactFloat64())
		f.SetCellValue(metalSheet, "G"+r, m.BucketCount)
		f.SetCellValue(metalSheet, "H"+r, m.NegativeBucketCount)
	}

	if len(movements) > 0 {
		if err := writeMovementSheet(f, summary, movements); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeMovementSheet(f *excelize.File, summary *workflow.StockSummary, movements map[int][]*models.StockMovement) error {
	if _, err := f.NewSheet(movementSheet); err != nil {
		return err
	}
	headers := []interface{}{"Bucket", "Date", "Type", "Direction", "Quantity (g)", "Rate", "Rate Unit", "Reference Type", "Reference Id", "Notes"}
	if err := f.SetSheetRow(movementSheet, "A1", &headers); err != nil {
		return err
	}
	rowNo := 2
	// follow bucket order of the summary so the sheet groups by bucket
	for _, b := range summary.Buckets {
		for _, m := range movements[b.BucketId] {
			row := []interface{}{
				b.Key.String(),
				m.MovementDate.Format(time.DateOnly),
				string(m.MovementType),
				string(m.AdjustDirection),
				m.Quantity.InexactFloat64(),
				m.Rate.InexactFloat64(),
				string(m.RateUnit),
				string(m.ReferenceType),
				m.ReferenceId,
				m.Notes,
			}
			if err := f.SetSheetRow(movementSheet, "A"+fmt.Sprint(rowNo), &row); err != nil {
				return err
			}
			rowNo++
		}
	}
	return nil
}

// WriteStockSummary builds the summary for filter and streams it as xlsx.
func WriteStockSummary(ctx context.Context, l *workflow.Ledger, filter models.BucketFilter, withMovements bool, w io.Writer) error {
	summary, err := l.StockSummary(ctx, filter)
	if err != nil {
		return err
	}
	var movements map[int][]*models.StockMovement
	if withMovements {
		movements = make(map[int][]*models.StockMovement, len(summary.Buckets))
		for _, b := range summary.Buckets {
			list, err := l.ListMovements(ctx, b.Key, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			movements[b.BucketId] = list
		}
	}
	f, err := StockSummaryWorkbook(summary, movements)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// StockSummaryXLSX is WriteStockSummary into memory, for uploads.
func StockSummaryXLSX(ctx context.Context, l *workflow.Ledger, filter models.BucketFilter, withMovements bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteStockSummary(ctx, l, filter, withMovements, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
