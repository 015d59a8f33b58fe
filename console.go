// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"fmt"
	"strings"
)

// Level is the severity tag carried by a remote log record.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
	LevelTable Level = "table"
)

// Severity is the presentation classification derived from a log level.
type Severity string

const (
	SeverityNormal  Severity = "normal"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityMuted   Severity = "muted"
)

// LogRecord is one unit of execution output: a level plus an ordered
// sequence of arbitrarily typed arguments. Immutable once received.
type LogRecord struct {
	Level Level `json:"level"`
	Args  []any `json:"args"`
}

// Recognized reports whether the record's level belongs to the displayed
// set. Unrecognized levels are filtered before rendering, not errors.
func (r LogRecord) Recognized() bool {
	switch r.Level {
	case LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug, LevelTable:
		return true
	}
	return false
}

// Classify maps a record's level to its presentation severity.
func Classify(rec LogRecord) Severity {
	switch rec.Level {
	case LevelError:
		return SeverityError
	case LevelWarn:
		return SeverityWarning
	case LevelDebug:
		return SeverityMuted
	default:
		return SeverityNormal
	}
}

// PrintLog produces the display text for a single record. Table records
// delegate to RenderTable; a first argument that is not array-like is a
// malformed remote response and fails with ErrInvalidTableInput.
func PrintLog(rec LogRecord) (string, error) {
	if rec.Level == LevelTable {
		return printTable(rec.Args)
	}

	parts := make([]string, len(rec.Args))
	for i, arg := range rec.Args {
		parts[i] = FormatValue(arg)
	}
	return strings.Join(parts, " "), nil
}

func printTable(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: table record carries no arguments", ErrInvalidTableInput)
	}

	rows, ok := args[0].([]any)
	if !ok {
		return "", fmt.Errorf("%w: first table argument is %T, not an array", ErrInvalidTableInput, args[0])
	}

	var columns []string
	if len(args) > 1 {
		cols, ok := args[1].([]any)
		if !ok {
			return "", fmt.Errorf("%w: column list is %T, not an array", ErrInvalidTableInput, args[1])
		}
		columns = make([]string, len(cols))
		for i, c := range cols {
			if s, ok := c.(string); ok {
				columns[i] = s
			} else {
				columns[i] = formatCell(c)
			}
		}
	}

	return RenderTable(rows, columns)
}

// DisplayEntry is one renderable line of a run's output.
type DisplayEntry struct {
	Text     string
	Severity Severity
}

// RenderLogs maps an execution result to the ordered display sequence.
// Records with unrecognized levels are dropped. A record whose formatting
// fails yields a visible placeholder entry instead of aborting the pass,
// so one malformed record never hides the rest.
func RenderLogs(result *ExecutionResult) []DisplayEntry {
	if result == nil {
		return nil
	}

	entries := make([]DisplayEntry, 0, len(result.Logs))
	for _, rec := range result.Logs {
		if !rec.Recognized() {
			continue
		}

		text, err := PrintLog(rec)
		if err != nil {
			entries = append(entries, DisplayEntry{
				Text:     fmt.Sprintf("(unrenderable log entry: %v)", err),
				Severity: SeverityError,
			})
			continue
		}

		entries = append(entries, DisplayEntry{Text: text, Severity: Classify(rec)})
	}
	return entries
}
