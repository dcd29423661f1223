package replication

import (
	"fmt"
	"sort"
	"strings"
)

// FormatSummary renders an analysis in the standard replication reporting
// format: a batch header, then one block per metric in name order, each led
// by "mean ± half-width (95%) [n=R]".
func FormatSummary(a *Analysis) string {
	var b strings.Builder
	b.WriteString("SIMULATION REPLICATION ANALYSIS SUMMARY\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Total Replications: %d\n", a.Summary.TotalRequested)
	fmt.Fprintf(&b, "Successful Runs: %d\n", a.Summary.Successful)
	if a.Summary.Failed > 0 {
		fmt.Fprintf(&b, "Failed Runs: %d\n", a.Summary.Failed)
	}
	b.WriteString("\n")

	names := make([]string, 0, len(a.Metrics))
	for name := range a.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := a.Metrics[name]
		fmt.Fprintf(&b, "%s:\n", titleWords(name))

		ci95, hasCI := m.ConfidenceIntervals["ci_95"]
		if hasCI && ci95.HalfWidth > 0 {
			fmt.Fprintf(&b, "  %.4f ± %.4f (95%%) [n=%d]\n", m.Mean, ci95.HalfWidth, m.SampleSize)
		} else {
			fmt.Fprintf(&b, "  %.4f [n=%d]\n", m.Mean, m.SampleSize)
		}
		fmt.Fprintf(&b, "  Std Dev: %.4f, CV: %.2f%%\n", m.StdDev, m.CoefficientOfVariation*100)
		fmt.Fprintf(&b, "  Range: [%.4f, %.4f]\n", m.Min, m.Max)
		if hasCI && m.Mean != 0 {
			fmt.Fprintf(&b, "  Relative Precision: ±%.1f%%\n", ci95.RelativePrecision*100)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// titleWords renders a snake_case metric key as a spaced, title-cased
// heading.
func titleWords(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
