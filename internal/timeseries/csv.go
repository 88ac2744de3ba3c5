package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// LoadCSV reads a wide CSV file into a Dataset:
//
//   - The first row is a header; the first column is "date", the rest are
//     series ids
//   - Every other row is a date (YYYY-MM-DD) followed by numeric values
//   - Empty cells and "." are read as missing (NaN)
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(in io.Reader) (*Dataset, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one series, got %d columns", len(header))
	}
	K := len(header) - 1

	var (
		data  []float64
		dates []time.Time
		row   int
	)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != K+1 {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, K+1, len(record))
		}

		d, err := time.Parse(DateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("parse date at row %d (%q): %w", row+2, record[0], err)
		}
		if len(dates) > 0 && !d.After(dates[len(dates)-1]) {
			return nil, fmt.Errorf("row %d: date %s is not after %s", row+2, record[0], dates[len(dates)-1].Format(DateLayout))
		}

		for j, s := range record[1:] {
			if s == "" || s == "." {
				data = append(data, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+2, s, err)
			}
			data = append(data, v)
		}

		dates = append(dates, d)
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	return NewDataset(dates, header[1:], data)
}

// WriteCSV writes the dataset in the layout LoadCSV reads. Missing values
// are written as empty cells.
func WriteCSV(out io.Writer, ds *Dataset) error {
	w := csv.NewWriter(out)

	header := append([]string{"date"}, ds.Names...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	T, K := ds.Dims()
	record := make([]string, K+1)
	for i := 0; i < T; i++ {
		record[0] = ds.Dates[i].Format(DateLayout)
		for j := 0; j < K; j++ {
			v := ds.Y.At(i, j)
			if math.IsNaN(v) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	w.Flush()
	return w.Error()
}
