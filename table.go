// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ErrInvalidTableInput marks malformed table arguments. This is a usage
// error on the producer side and is propagated, never rendered as a table.
var ErrInvalidTableInput = errors.New("invalid table input")

// indexColumn is the synthesized leading column holding the zero-based row
// index. The parentheses keep it from colliding with any user column name.
const indexColumn = "(index)"

const columnGap = "  "

// RenderTable renders rows as a monospace-aligned text table. Rows are
// records (map[string]any) or arrays ([]any, cells addressed by element
// index). When columns is empty the effective columns are derived from the
// first row only; later rows' extra keys are dropped. That mirrors the
// behavior hosts already rely on, so it stays.
func RenderTable(rows []any, columns []string) (string, error) {
	for i, row := range rows {
		switch row.(type) {
		case map[string]any, []any:
		default:
			return "", fmt.Errorf("%w: row %d is %T, not a record or array", ErrInvalidTableInput, i, row)
		}
	}

	effective := columns
	if len(effective) == 0 && len(rows) > 0 {
		effective = deriveColumns(rows[0])
	}

	header := append([]string{indexColumn}, effective...)

	cells := make([][]string, len(rows))
	for i, row := range rows {
		line := make([]string, len(header))
		line[0] = strconv.Itoa(i)
		for j, col := range effective {
			line[j+1] = cellText(row, col)
		}
		cells[i] = line
	}

	widths := make([]int, len(header))
	for j, h := range header {
		widths[j] = runewidth.StringWidth(h)
	}
	for _, line := range cells {
		for j, cell := range line {
			if w := runewidth.StringWidth(cell); w > widths[j] {
				widths[j] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(line []string) {
		padded := make([]string, len(line))
		for j, cell := range line {
			padded[j] = runewidth.FillRight(cell, widths[j])
		}
		b.WriteString(strings.TrimRight(strings.Join(padded, columnGap), " "))
		b.WriteString("\n")
	}

	writeRow(header)
	separator := make([]string, len(header))
	for j := range header {
		separator[j] = strings.Repeat("-", widths[j])
	}
	writeRow(separator)
	for _, line := range cells {
		writeRow(line)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

// deriveColumns extracts the effective column list from the first row.
// Go maps are unordered, so record keys are sorted to keep the output
// deterministic. Array rows yield their element indices.
func deriveColumns(first any) []string {
	switch row := first.(type) {
	case map[string]any:
		cols := make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		return cols
	case []any:
		cols := make([]string, len(row))
		for i := range row {
			cols[i] = strconv.Itoa(i)
		}
		return cols
	}
	return nil
}

// cellText resolves one cell. Rows missing the column render empty.
func cellText(row any, col string) string {
	switch r := row.(type) {
	case map[string]any:
		v, ok := r[col]
		if !ok {
			return ""
		}
		return formatCell(v)
	case []any:
		idx, err := strconv.Atoi(col)
		if err != nil || idx < 0 || idx >= len(r) {
			return ""
		}
		return formatCell(r[idx])
	}
	return ""
}
