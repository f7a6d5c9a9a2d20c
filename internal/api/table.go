package api

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Tabular is implemented by responses that have a table rendering.
type Tabular interface {
	TableHeader() []string
	TableRows() [][]any
}

// RenderTable writes t as a light box table.
func RenderTable(w io.Writer, t Tabular) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, 0, len(t.TableHeader()))
	for _, h := range t.TableHeader() {
		header = append(header, h)
	}
	tw.AppendHeader(header)
	for _, r := range t.TableRows() {
		tw.AppendRow(table.Row(r))
	}
	tw.Render()
	return nil
}
