package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// renderTable draws a two-column key/value table. Terminals get rounded
// borders; pipes and files get plain ASCII.
func renderTable(writer io.Writer, headers [2]string, rows [][2]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleDefault)

	if isTerminal(writer) {
		tw.SetStyle(table.StyleRounded)
	}

	tw.AppendHeader(table.Row{headers[0], headers[1]})

	for _, row := range rows {
		tw.AppendRow(table.Row{row[0], row[1]})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	return tw.Render()
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}

	fd := file.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
