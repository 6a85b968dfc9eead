package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws rounded box tables on a terminal and plain ASCII
// otherwise so piped output stays greppable.
func renderTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
