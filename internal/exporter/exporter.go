package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"fredcast/internal/timeseries"
)

// Header is the column layout of both export formats.
var Header = []string{"run_id", "model", "series_id", "date", "value"}

// maxSheetName is Excel's limit on sheet names.
const maxSheetName = 31

// WriteCSV writes the predictions as CSV in the order given. Absent values
// are empty cells.
func WriteCSV(w io.Writer, preds []timeseries.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, p := range preds {
		if err := cw.Write([]string{p.RunID, p.Model, p.SeriesID, p.Date.Format(timeseries.DateLayout), formatValue(p.Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with one sheet per model, sorted by model name.
func WriteXLSX(w io.Writer, preds []timeseries.Prediction) error {
	byModel := make(map[string][]timeseries.Prediction)
	for _, p := range preds {
		byModel[p.Model] = append(byModel[p.Model], p)
	}
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	if len(models) == 0 {
		return fmt.Errorf("xlsx export: no predictions")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, model := range models {
		sheet := SheetName(model)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("xlsx export: sheet %s: %w", sheet, err)
		}
		if err := writeSheet(f, sheet, byModel[model]); err != nil {
			return fmt.Errorf("xlsx export: sheet %s: %w", sheet, err)
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeSheet(f *excelize.File, sheet string, preds []timeseries.Prediction) error {
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, p := range preds {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{p.RunID, p.Model, p.SeriesID, p.Date.Format(timeseries.DateLayout), nil}
		if !math.IsNaN(p.Value) {
			row[4] = p.Value
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// SheetName turns a model name into a valid, unique-enough sheet name.
func SheetName(model string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, model)
	if name == "" {
		name = "predictions"
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
