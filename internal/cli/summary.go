package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/taxflow/internal/engine"
	"github.com/Veraticus/taxflow/internal/learning"
	"github.com/Veraticus/taxflow/internal/model"
)

// maxListedFailures caps the failures printed in a summary.
const maxListedFailures = 10

var routeOrder = []model.Route{
	model.RouteCached,
	model.RouteRule,
	model.RouteRetrieveSimple,
	model.RouteRetrieveEnhanced,
}

// RenderRunReport formats the outcome of one analyze run.
func RenderRunReport(r *engine.RunReport) string {
	if r.Unchanged {
		return FormatInfo(fmt.Sprintf("%s unchanged since the last run, nothing to do", r.FileID))
	}

	var b strings.Builder
	row(&b, "Run", r.RunID)
	row(&b, "File", r.FileID)
	row(&b, "Records", fmt.Sprintf("%d (%d to analyze)", r.Total, r.Unresolved))
	row(&b, "Succeeded", SuccessStyle.Render(fmt.Sprint(r.Succeeded)))
	if r.Failed > 0 {
		row(&b, "Failed", ErrorStyle.Render(fmt.Sprint(r.Failed)))
	}
	if r.Skipped > 0 {
		row(&b, "Skipped", WarningStyle.Render(fmt.Sprint(r.Skipped)))
	}
	row(&b, "Batches", fmt.Sprint(r.Batches))
	row(&b, "Cache", fmt.Sprintf("%d hits, %d misses", r.CacheHits, r.CacheMisses))
	row(&b, "Duration", r.Duration.Round(time.Millisecond).String())

	b.WriteString("\n" + BoldStyle.Render("Routes") + "\n")
	for _, route := range routeOrder {
		if n := r.Routes[route]; n > 0 {
			row(&b, "  "+string(route), fmt.Sprint(n))
		}
	}

	switch {
	case r.DryRun:
		b.WriteString("\n" + FormatWarning("Dry run: nothing was committed"))
	case r.FileAdvanced:
		b.WriteString("\n" + FormatSuccess("File fingerprint advanced"))
	default:
		b.WriteString("\n" + FormatWarning("File fingerprint held back; rerun to retry the remaining records"))
	}

	if len(r.Failures) > 0 {
		b.WriteString("\n\n" + BoldStyle.Render("Failures") + "\n")
		for i, f := range r.Failures {
			if i == maxListedFailures {
				b.WriteString(SubtleStyle.Render(fmt.Sprintf("  ... and %d more", len(r.Failures)-i)) + "\n")
				break
			}
			b.WriteString(FormatError(fmt.Sprintf("%s: %v", f.RecordID, f.Err)) + "\n")
		}
	}

	return RenderBox(reportIcon+" Analysis summary", strings.TrimRight(b.String(), "\n"))
}

// RenderUpdateSummary formats the outcome of one learning pass.
func RenderUpdateSummary(s learning.UpdateSummary) string {
	var b strings.Builder
	row(&b, "Received", fmt.Sprint(s.Received))
	row(&b, "Applied", SuccessStyle.Render(fmt.Sprint(s.Applied)))
	row(&b, "Duplicates", fmt.Sprint(s.Duplicates))
	row(&b, "Invalid", fmt.Sprint(s.Invalid))
	row(&b, "Pattern updates", fmt.Sprint(s.PatternUpdates))
	if s.Dropped > 0 {
		row(&b, "Dropped (conflicts)", WarningStyle.Render(fmt.Sprint(s.Dropped)))
	}
	for i, f := range s.Failures {
		if i == maxListedFailures {
			break
		}
		id := f.RecordID
		if id == "" {
			id = f.CorrectionID
		}
		b.WriteString(FormatError(fmt.Sprintf("%s: %v", id, f.Err)) + "\n")
	}
	return RenderBox("Learning summary", strings.TrimRight(b.String(), "\n"))
}

// RenderPatterns lists pattern entries as a table, most reviewed first.
func RenderPatterns(entries []model.PatternEntry) string {
	if len(entries) == 0 {
		return FormatInfo("No patterns learned yet")
	}
	sorted := append([]model.PatternEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SampleCount != sorted[j].SampleCount {
			return sorted[i].SampleCount > sorted[j].SampleCount
		}
		return sorted[i].Key < sorted[j].Key
	})

	rows := make([][]string, 0, len(sorted))
	for _, e := range sorted {
		rows = append(rows, []string{
			string(e.Kind),
			e.Key,
			e.Outcome,
			fmt.Sprintf("%.0f%%", e.SuccessRate*100),
			fmt.Sprint(e.SampleCount),
			e.Citation,
		})
	}
	return table([]string{"KIND", "KEY", "OUTCOME", "RATE", "SAMPLES", "CITATION"}, rows)
}

// RenderResults lists results as a table in record order.
func RenderResults(results []model.Result) string {
	if len(results) == 0 {
		return FormatInfo("No results")
	}
	sorted := append([]model.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordID < sorted[j].RecordID })

	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, []string{
			r.RecordID,
			r.Outcome,
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("$%.2f", r.Estimate),
			string(r.Strategy),
			r.Citation,
		})
	}
	return table([]string{"RECORD", "OUTCOME", "CONF", "ESTIMATE", "ROUTE", "CITATION"}, rows)
}

// RenderRetrieval lists the chunks a search returned.
func RenderRetrieval(res *model.RetrievalResult) string {
	var b strings.Builder
	b.WriteString(FormatTitle(fmt.Sprintf("%s search for %q", res.Strategy, res.Query)) + "\n")
	if res.Escalated {
		b.WriteString(FormatInfo("Escalated to a broader search") + "\n")
	}
	if res.Degraded {
		b.WriteString(FormatWarning("Too few relevant excerpts; results are degraded") + "\n")
	}
	if len(res.Chunks) == 0 {
		b.WriteString(SubtleStyle.Render("No excerpts found"))
		return b.String()
	}
	for i, sc := range res.Chunks {
		head := fmt.Sprintf("%d. [%s] %.3f", i+1, sc.Chunk.Citation, sc.Score)
		b.WriteString(BoldStyle.Render(head) + " " + SubtleStyle.Render(sc.Chunk.ID) + "\n")
		b.WriteString("   " + oneLine(sc.Chunk.Text, 160) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(SubtleStyle.Width(22).Render(label) + value + "\n")
}

func table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		out := make([]string, len(cells))
		for i, cell := range cells {
			out[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, out...)
	}

	lines := []string{render(headers, headerStyle)}
	for _, r := range rows {
		lines = append(lines, render(r, cellStyle))
	}
	return strings.Join(lines, "\n")
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
