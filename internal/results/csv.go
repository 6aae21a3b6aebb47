// Package results reads and writes study results as CSV files.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sort"
	"strconv"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// ErrColumnsChanged reports a row whose bus set differs from the header.
var ErrColumnsChanged = errors.New("row columns differ from header")

// Writer writes one CSV row of bus voltages per sample. The header is taken
// from the first row written, with bus names in sorted order.
type Writer struct {
	w      *csv.Writer
	header []string
	rows   int
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Header returns the columns, or nil before the first row.
func (w *Writer) Header() []string { return w.header }

// Rows returns how many rows have been written.
func (w *Writer) Rows() int { return w.rows }

// Write appends one row. The first call also writes the header.
func (w *Writer) Write(row map[string]float64) error {
	if w.header == nil {
		w.header = make([]string, 0, len(row))
		for name := range row {
			w.header = append(w.header, name)
		}
		sort.Strings(w.header)
		if err := w.w.Write(w.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if len(row) != len(w.header) {
		return fmt.Errorf("row %d has %d columns, header has %d: %w", w.rows, len(row), len(w.header), ErrColumnsChanged)
	}

	record := make([]string, len(w.header))
	for i, name := range w.header {
		v, ok := row[name]
		if !ok {
			return fmt.Errorf("row %d lacks %q: %w", w.rows, name, ErrColumnsChanged)
		}
		record[i] = FormatFloat(v)
	}
	if err := w.w.Write(record); err != nil {
		return fmt.Errorf("write row %d: %w", w.rows, err)
	}
	w.rows++
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// FormatFloat renders a value the way the CSV files store it.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Table is a column-oriented result set.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	return slices.Index(t.Columns, name)
}

// Column returns a copy of one column's values.
func (t *Table) Column(name string) ([]float64, error) {
	i := t.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("column %q not in table", name)
	}
	out := make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, nil
}

// Profiles returns one vector per column, holding that column's values in
// row order.
func (t *Table) Profiles() [][]float64 {
	out := make([][]float64, len(t.Columns))
	for c := range t.Columns {
		out[c] = make([]float64, len(t.Rows))
		for r, row := range t.Rows {
			out[c][r] = row[c]
		}
	}
	return out
}

// Complete returns a table holding only the rows without NaN cells.
func (t *Table) Complete() *Table {
	out := &Table{Columns: t.Columns}
	for _, row := range t.Rows {
		if !slices.ContainsFunc(row, math.IsNaN) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// ReadCSV parses a result file with a header row and numeric cells.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty result file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Columns: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		row := make([]float64, len(rec))
		for i, cell := range rec {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile opens and parses a result file.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteSeries writes aligned time series as columns "t" followed by names.
// All series must share the time axis of the first.
func WriteSeries(w io.Writer, names []string, series []engine.Series) error {
	if len(names) != len(series) {
		return fmt.Errorf("%d names for %d series", len(names), len(series))
	}
	if len(series) == 0 {
		return errors.New("no series to write")
	}
	n := series[0].Len()
	for i, s := range series {
		if s.Len() != n {
			return fmt.Errorf("series %q has %d points, want %d", names[i], s.Len(), n)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"t"}, names...)); err != nil {
		return err
	}
	record := make([]string, len(series)+1)
	for r := 0; r < n; r++ {
		record[0] = FormatFloat(series[0].Time[r])
		for i, s := range series {
			record[i+1] = FormatFloat(s.Values[r])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
