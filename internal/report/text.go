package report

import (
	"fmt"
	"strings"

	"cloudsql-report-agent/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

type Email struct {
	Subject string
	Body    string
}

// Line renders one instance as "<instance>: CPU <p>% Lat <l>µs Conn <c>".
func Line(s model.InstanceSummary) string {
	return fmt.Sprintf("%s: CPU %.1f%% Lat %.1fµs Conn %.0f", s.InstanceID, s.CPU(), s.Latency(), s.Connections())
}

// RenderText returns one line per instance in summary order.
func RenderText(r model.RunResult) string {
	lines := make([]string, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		lines = append(lines, Line(s))
	}
	return strings.Join(lines, "\n")
}

// RenderEmail wraps the text report with a title, the peak line and the estimate notes.
func RenderEmail(r model.RunResult, subject string) Email {
	var b strings.Builder
	fmt.Fprintf(&b, "CLOUD SQL MONITORING REPORT (P99 / peak)\n")
	fmt.Fprintf(&b, "Project: %s\n", r.ProjectID)
	fmt.Fprintf(&b, "Window: %s to %s UTC\n\n", r.WindowStart.UTC().Format(timeLayout), r.WindowEnd.UTC().Format(timeLayout))
	b.WriteString(RenderText(r))
	b.WriteString("\n\n")
	b.WriteString(PeakLine(r))
	if notes := estimateNotes(r.Summaries); len(notes) > 0 {
		b.WriteString("\n\nEstimated (no samples in window):\n")
		b.WriteString(strings.Join(notes, "\n"))
	}
	b.WriteString("\n")
	return Email{Subject: subject, Body: b.String()}
}

func PeakLine(r model.RunResult) string {
	if !r.HasPeak() {
		return "Highest P99 CPU overall: N/A"
	}
	return fmt.Sprintf("Highest P99 CPU overall: %s = %.1f%%", r.PeakInstanceID, r.PeakCPU)
}

func estimateNotes(summaries []model.InstanceSummary) []string {
	var out []string
	for _, s := range summaries {
		var fields []string
		if s.CPUSource == model.Estimated {
			fields = append(fields, "cpu")
		}
		if s.LatencySource == model.Estimated {
			fields = append(fields, "latency")
		}
		if s.ConnectionsSource == model.Estimated {
			fields = append(fields, "connections")
		}
		if len(fields) > 0 {
			out = append(out, fmt.Sprintf("  %s: %s", s.InstanceID, strings.Join(fields, ", ")))
		}
	}
	return out
}
