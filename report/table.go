package report

import (
	"fmt"
	"strings"
)

const (
	digits        = 2
	columnWidth   = 9
	weightedTitle = "weighted avg"
)

// row of a classification table.
type row struct {
	name                       string
	precision, recall, f1Score float64
	support                    int
}

// scores holds the counts of one class.
type scores struct {
	tp, fp, fn int
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func fScore(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func (s scores) row(name string) row {
	p, r := ratio(s.tp, s.tp+s.fp), ratio(s.tp, s.tp+s.fn)
	return row{name: name, precision: p, recall: r, f1Score: fScore(p, r), support: s.tp + s.fn}
}

// table renders per-class rows followed by the micro, macro and support-weighted averages, with
// the layout of scikit-learn's classification_report.
func table(names []string, classes map[string]scores) string {
	rows := make([]row, len(names))
	var total scores
	for i, name := range names {
		s := classes[name]
		rows[i] = s.row(name)
		total.tp += s.tp
		total.fp += s.fp
		total.fn += s.fn
	}

	micro := total.row("micro avg")
	macro := row{name: "macro avg", support: micro.support}
	weighted := row{name: weightedTitle, support: micro.support}
	for _, r := range rows {
		macro.precision += r.precision
		macro.recall += r.recall
		macro.f1Score += r.f1Score
		w := float64(r.support)
		weighted.precision += w * r.precision
		weighted.recall += w * r.recall
		weighted.f1Score += w * r.f1Score
	}
	if n := float64(len(rows)); n > 0 {
		macro.precision /= n
		macro.recall /= n
		macro.f1Score /= n
	}
	if sum := float64(micro.support); sum > 0 {
		weighted.precision /= sum
		weighted.recall /= sum
		weighted.f1Score /= sum
	}

	width := len(weightedTitle)
	for _, name := range names {
		width = max(width, len(name))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s ", width, "")
	for _, h := range []string{"precision", "recall", "f1-score", "support"} {
		fmt.Fprintf(&sb, " %*s", columnWidth, h)
	}
	sb.WriteString("\n\n")
	for _, r := range rows {
		writeRow(&sb, width, r)
	}
	sb.WriteString("\n")
	for _, r := range []row{micro, macro, weighted} {
		writeRow(&sb, width, r)
	}
	return sb.String()
}

func writeRow(sb *strings.Builder, width int, r row) {
	fmt.Fprintf(sb, "%*s ", width, r.name)
	for _, v := range []float64{r.precision, r.recall, r.f1Score} {
		fmt.Fprintf(sb, " %*.*f", columnWidth, digits, v)
	}
	fmt.Fprintf(sb, " %*d\n", columnWidth, r.support)
}
