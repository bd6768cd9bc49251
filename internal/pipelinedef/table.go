package pipelinedef

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
)

// table is a small numeric CSV: one header row, float cells.
type table struct {
	header []string
	rows   [][]float64
}

func parseTable(payload []byte) (*table, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty dataset")
	}
	t := &table{header: records[0]}
	for line, record := range records[1:] {
		row := make([]float64, len(record))
		if len(record) != len(t.header) {
			return nil, fmt.Errorf("row %d: expected %d cells, got %d", line+2, len(t.header), len(record))
		}
		for i, cell := range record {
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", line+2, t.header[i], err)
			}
			row[i] = value
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) columns() int {
	return len(t.header)
}

func (t *table) columnStats(col int) (mean, std float64) {
	if len(t.rows) == 0 {
		return 0, 0
	}
	for _, row := range t.rows {
		mean += row[col]
	}
	mean /= float64(len(t.rows))
	for _, row := range t.rows {
		diff := row[col] - mean
		std += diff * diff
	}
	std = math.Sqrt(std / float64(len(t.rows)))
	return mean, std
}

// encode writes the table back out with full float precision so the
// payload bytes are stable across runs.
func (t *table) encode() []byte {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write(t.header)
	for _, row := range t.rows {
		record := make([]string, len(row))
		for i, value := range row {
			record[i] = strconv.FormatFloat(value, 'g', -1, 64)
		}
		_ = writer.Write(record)
	}
	writer.Flush()
	return buf.Bytes()
}

func floatParam(params map[string]string, key string) (float64, error) {
	value, err := strconv.ParseFloat(params[key], 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return value, nil
}

func intParam(params map[string]string, key string) (int, error) {
	value, err := strconv.Atoi(params[key])
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return value, nil
}
