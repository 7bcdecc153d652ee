package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/go-nerkit/trainer"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "81"})
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "250", Dark: "238"})
)

// renderTable renders rows under a title.
func renderTable(title string, headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.String())
}

// summaryTable shows the validation metrics of each epoch of a run.
func summaryTable(title string, history *trainer.History) string {
	names := []string{"all_loss", "all_acc", "all_f1_micro", "fil_precision_micro", "fil_recall_micro", "fil_f1_micro", "fil_f1_macro"}
	rows := make([][]string, 0, len(history.Valid))
	for epoch, record := range history.Valid {
		row := []string{fmt.Sprint(epoch)}
		for _, name := range names {
			cell := "-"
			if v, ok := record.Lookup(name); ok {
				cell = fmt.Sprintf("%.4f", v)
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	title = fmt.Sprintf("%s (best epoch %d, %.1fs)", title, history.BestEpoch, history.Duration.Seconds())
	return renderTable(title, append([]string{"epoch"}, names...), rows)
}
