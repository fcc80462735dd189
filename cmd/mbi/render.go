package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"mbi/internal/domain"
	"mbi/internal/pipeline"
	"mbi/internal/validate"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteByte('\n')
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return dimStyle.Render("-")
	}
	return fmt.Sprintf("%s (%s)", domain.FormatDate(t), humanize.Time(t))
}

func renderStatus(st pipeline.Status) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("mbi status"))
	b.WriteString("\n\n")
	row(&b, "universe", humanize.Comma(int64(st.Universe)))
	stored := humanize.Comma(int64(st.StoredSymbols))
	if st.StoredSymbols < st.Universe {
		stored = warnStyle.Render(stored + " (missing " + humanize.Comma(int64(st.Universe-st.StoredSymbols)) + ")")
	}
	row(&b, "stored symbols", stored)
	row(&b, "ledger records", humanize.Comma(int64(st.LedgerRecords)))
	row(&b, "latest record", dateOrDash(st.LatestRecord))
	row(&b, "snapshots", humanize.Comma(int64(st.Snapshots)))
	row(&b, "latest snapshot", dateOrDash(st.LatestSnapshot))

	if len(st.Dirs) > 0 {
		b.WriteByte('\n')
		for _, d := range st.Dirs {
			row(&b, d.Label, fmt.Sprintf("%s files, %s  %s",
				humanize.Comma(int64(d.Files)), humanize.Bytes(uint64(d.Bytes)), dimStyle.Render(d.Path)))
		}
	}
	return b.String()
}

func renderReport(rep pipeline.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("mbi " + rep.Command))
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(rep.RunID))
	b.WriteString("\n\n")

	if !rep.Start.IsZero() {
		row(&b, "range", domain.FormatDate(rep.Start)+" .. "+domain.FormatDate(rep.End))
	}
	if rep.UpToDate {
		row(&b, "ledger", okStyle.Render("up to date"))
	}
	if f := rep.Fetch; f != nil {
		row(&b, "fetched", fmt.Sprintf("%s bars for %s/%s symbols in %s",
			humanize.Comma(int64(f.Bars)), humanize.Comma(int64(f.Hits)),
			humanize.Comma(int64(f.Symbols)), f.Elapsed.Round(time.Second)))
		if f.Failed > 0 {
			row(&b, "fetch failures", warnStyle.Render(fmt.Sprintf("%d batches", f.Failed)))
		}
	}
	row(&b, "trading days", humanize.Comma(int64(rep.Dates)))
	row(&b, "written", okStyle.Render(humanize.Comma(int64(len(rep.Written)))))
	if len(rep.Rejected) > 0 {
		row(&b, "rejected", errStyle.Render(humanize.Comma(int64(len(rep.Rejected)))))
		for _, rj := range rep.Rejected {
			b.WriteString("  ")
			b.WriteString(errStyle.Render(domain.FormatDate(rj.Date)))
			b.WriteString(" ")
			b.WriteString(dimStyle.Render(rj.Err.Error()))
			b.WriteByte('\n')
		}
	}
	if rep.Cancelled {
		row(&b, "state", warnStyle.Render("cancelled"))
	}
	if !rep.Finished.IsZero() {
		row(&b, "took", rep.Finished.Sub(rep.Started).Round(time.Millisecond).String())
	}
	return b.String()
}

func renderRecord(header, values []string) string {
	var b strings.Builder
	for i, h := range header {
		if i < len(values) {
			row(&b, h, values[i])
		}
	}
	return b.String()
}

func renderCheck(q validate.QualityReport, issues []validate.Issue) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("check " + q.Symbol))
	b.WriteString("\n\n")
	row(&b, "rows", humanize.Comma(int64(q.TotalRows)))
	row(&b, "first", dateOrDash(q.First))
	row(&b, "last", dateOrDash(q.Last))
	if !math.IsNaN(q.MinClose) {
		row(&b, "close range", fmt.Sprintf("%.2f .. %.2f", q.MinClose, q.MaxClose))
	}
	row(&b, "null values", countStyle(q.NullValues))
	row(&b, "duplicate dates", countStyle(q.DuplicateDates))
	row(&b, "zero volume", countStyle(q.ZeroVolume))

	if len(issues) == 0 {
		b.WriteString("\n" + okStyle.Render("no issues") + "\n")
		return b.String()
	}
	b.WriteByte('\n')
	counts := validate.CountByKind(issues)
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		row(&b, k, warnStyle.Render(humanize.Comma(int64(counts[validate.Kind(k)]))))
	}
	b.WriteByte('\n')
	for _, is := range issues {
		b.WriteString("  " + is.String() + "\n")
	}
	return b.String()
}

func countStyle(n int) string {
	if n == 0 {
		return okStyle.Render("0")
	}
	return warnStyle.Render(humanize.Comma(int64(n)))
}
