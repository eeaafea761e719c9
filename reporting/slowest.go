package reporting

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/op-testr/types"
)

// SlowestTable renders results, assumed already ranked, as a two column table
// of test id and runtime in seconds.
func SlowestTable(results []*types.TestResult) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Test id", "Runtime (s)"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	for _, r := range results {
		d, ok := r.Duration()
		if !ok {
			continue
		}
		t.AppendRow(table.Row{string(r.ID), fmt.Sprintf("%.3f", d.Seconds())})
	}
	return t.Render()
}
