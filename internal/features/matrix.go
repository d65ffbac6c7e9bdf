package features

import (
	"fmt"
)

// Matrix is a columnar feature matrix. Every column has one value per record
// and the record order matches the Batch it was built from.
type Matrix struct {
	rows  int
	names []string
	cols  map[string][]float64
}

// NewMatrix creates an empty matrix for the given number of records.
func NewMatrix(rows int) *Matrix {
	return &Matrix{
		rows: rows,
		cols: make(map[string][]float64),
	}
}

// Set adds or replaces a column. Columns keep their first insertion order.
func (m *Matrix) Set(name string, col []float64) {
	if len(col) != m.rows {
		panic(fmt.Sprintf("features: column %s has %d values, matrix has %d rows", name, len(col), m.rows))
	}
	if _, ok := m.cols[name]; !ok {
		m.names = append(m.names, name)
	}
	m.cols[name] = col
}

// Rows returns the number of records.
func (m *Matrix) Rows() int { return m.rows }

// Names returns the feature names in column order.
func (m *Matrix) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Has reports whether the feature was produced.
func (m *Matrix) Has(name string) bool {
	_, ok := m.cols[name]
	return ok
}

// Column returns the values of one feature, nil if absent.
func (m *Matrix) Column(name string) []float64 {
	return m.cols[name]
}

// Value returns one cell.
func (m *Matrix) Value(name string, row int) (float64, bool) {
	col, ok := m.cols[name]
	if !ok {
		return 0, false
	}
	return col[row], true
}

// Row returns a copy of one record's features keyed by name.
func (m *Matrix) Row(i int) map[string]float64 {
	out := make(map[string]float64, len(m.names))
	for _, name := range m.names {
		out[name] = m.cols[name][i]
	}
	return out
}

// Dense returns the matrix row-major with columns in Names order.
func (m *Matrix) Dense() [][]float64 {
	out := make([][]float64, m.rows)
	for i := range out {
		row := make([]float64, len(m.names))
		for j, name := range m.names {
			row[j] = m.cols[name][i]
		}
		out[i] = row
	}
	return out
}
