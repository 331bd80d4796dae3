package sniper

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// table is a parsed CSV feed whose columns are looked up by alias.
type table struct {
	index map[string]int
	rows  [][]string
}

// parseTable reads a headed CSV. Header names are matched case-insensitively
// with spaces and dashes folded to underscores.
func parseTable(body []byte) (*table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv has no header")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	t := &table{index: make(map[string]int, len(header))}
	for i, name := range header {
		key := headerKey(name)
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func headerKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// has reports whether any alias names a column.
func (t *table) has(aliases ...string) bool {
	_, ok := t.column(aliases)
	return ok
}

func (t *table) column(aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := t.index[a]; ok {
			return i, true
		}
	}
	return 0, false
}

// get returns the trimmed value of the first alias present in the header.
func (t *table) get(row []string, aliases ...string) string {
	i, ok := t.column(aliases)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
