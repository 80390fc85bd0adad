// Package export serializes a consistent snapshot of the rolling sample
// buffer to delimited text (CSV) or a spreadsheet (XLSX).
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"cir-monitor/internal/telemetry"
)

// dateTimeLayout formats the human-readable capture time with
// millisecond precision.
const dateTimeLayout = "2006-01-02 15:04:05.000"

// xlsxSheet is the sheet name used for spreadsheet exports.
const xlsxSheet = "CIR Data"

// Header returns the fixed columns followed by one column per selected
// field, in the caller's order.
func Header(fields []telemetry.Field) []string {
	header := []string{"SampleIndex", "Timestamp", "DateTime"}
	for _, f := range fields {
		header = append(header, string(f))
	}
	return header
}

// row renders one sample. Missing values become empty cells, never
// "NaN" or "null"; numeric values use the default decimal form.
func row(sample telemetry.Sample, fields []telemetry.Field) []string {
	out := make([]string, 0, 3+len(fields))
	out = append(out,
		strconv.FormatUint(sample.Index, 10),
		formatEpoch(sample.Timestamp),
		sample.Timestamp.Format(dateTimeLayout),
	)
	for _, f := range fields {
		v := sample.Values[f]
		if telemetry.IsMissing(v) {
			out = append(out, "")
		} else {
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// formatEpoch renders the raw capture timestamp as epoch seconds with
// microsecond precision.
func formatEpoch(ts time.Time) string {
	return strconv.FormatFloat(float64(ts.UnixNano())/1e9, 'f', 6, 64)
}

// WriteCSV writes the samples as UTF-8, comma-delimited text. The
// sample slice must already be a consistent snapshot; the writer does
// not touch the store.
func WriteCSV(w io.Writer, samples []telemetry.Sample, fields []telemetry.Field) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header(fields)); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, sample := range samples {
		if err := cw.Write(row(sample, fields)); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", sample.Index, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// WriteXLSX writes the same table as a spreadsheet. Numeric cells stay
// numeric so the sheet is usable for analysis without re-parsing.
func WriteXLSX(w io.Writer, samples []telemetry.Sample, fields []telemetry.Field) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := Header(fields)
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write sheet header: %w", err)
	}

	for i, sample := range samples {
		cells := make([]interface{}, 0, len(header))
		cells = append(cells, sample.Index, formatEpoch(sample.Timestamp), sample.Timestamp.Format(dateTimeLayout))
		for _, field := range fields {
			v := sample.Values[field]
			if telemetry.IsMissing(v) {
				cells = append(cells, nil)
			} else {
				cells = append(cells, v)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write sheet row %d: %w", sample.Index, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}

// DefaultFilename returns the suggested export filename for the given
// format extension ("csv" or "xlsx"), stamped with the current time.
func DefaultFilename(format string) string {
	return fmt.Sprintf("CIR_data_%s.%s", time.Now().Format("20060102_150405"), format)
}
