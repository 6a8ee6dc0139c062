package models

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Frame is a tabular query result kept in the conversation cache under "df".
type Frame struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Head returns a frame limited to the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || len(f.Rows) <= n {
		return f
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// ColumnIndex returns the index of the named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnValues returns every value of column i.
func (f *Frame) ColumnValues(i int) []any {
	vals := make([]any, 0, len(f.Rows))
	for _, row := range f.Rows {
		if i < len(row) {
			vals = append(vals, row[i])
		} else {
			vals = append(vals, nil)
		}
	}
	return vals
}

// IsNumeric reports whether every non-null value of column i is a number.
func (f *Frame) IsNumeric(i int) bool {
	seen := false
	for _, v := range f.ColumnValues(i) {
		switch v.(type) {
		case nil:
			continue
		case int, int32, int64, float32, float64, json.Number:
			seen = true
		default:
			return false
		}
	}
	return seen
}

// Records encodes the frame as a JSON array of objects, keeping column order.
func (f *Frame) Records() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range f.Rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, col := range f.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(col.Name)
			buf.Write(key)
			buf.WriteByte(':')
			var v any
			if i < len(row) {
				v = row[i]
			}
			val, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", col.Name, err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Dtypes renders a column/type listing handed to the LLM as chart metadata.
func (f *Frame) Dtypes() string {
	var b strings.Builder
	for i, c := range f.Columns {
		typ := c.Type
		if typ == "" {
			typ = "object"
			if f.IsNumeric(i) {
				typ = "number"
			}
		}
		fmt.Fprintf(&b, "%s    %s\n", c.Name, typ)
	}
	return b.String()
}

// WriteCSV writes a header row followed by every row.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// NormalizeValue converts database/sql scan results into JSON-friendly values.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}

// Markdown renders up to maxRows rows as a markdown table for prompts.
func (f *Frame) Markdown(maxRows int) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range f.Columns {
		b.WriteString(" " + c.Name + " |")
	}
	b.WriteString("\n|")
	for range f.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range f.Head(maxRows).Rows {
		b.WriteString("|")
		for i := range f.Columns {
			cell := ""
			if i < len(row) {
				cell = formatCell(row[i])
			}
			b.WriteString(" " + strings.ReplaceAll(cell, "|", "\\|") + " |")
		}
		b.WriteString("\n")
	}
	return b.String()
}
