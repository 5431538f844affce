package report

import (
	"fmt"
	"net/url"

	"cloudsql-report-agent/internal/model"
)

const (
	adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"
	adaptiveCardSchema      = "http://adaptivecards.io/schemas/adaptive-card.json"
	adaptiveCardVersion     = "1.3"
	estimatedMarker         = "*"
)

// TableHeader is the fixed first row of the instance table.
var TableHeader = []string{"Instance Name", "P99 CPU", "P99 Latency", "Peak Connections"}

type Message struct {
	Type        string       `json:"type"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	ContentType string       `json:"contentType"`
	Content     AdaptiveCard `json:"content"`
}

type AdaptiveCard struct {
	Schema  string    `json:"$schema"`
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Body    []Element `json:"body"`
	Actions []Action  `json:"actions,omitempty"`
}

// Element covers the TextBlock and Table elements used by the report.
type Element struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	Size     string     `json:"size,omitempty"`
	Weight   string     `json:"weight,omitempty"`
	Color    string     `json:"color,omitempty"`
	IsSubtle bool       `json:"isSubtle,omitempty"`
	Spacing  string     `json:"spacing,omitempty"`
	Wrap     bool       `json:"wrap,omitempty"`
	Columns  []Column   `json:"columns,omitempty"`
	Rows     []TableRow `json:"rows,omitempty"`
}

type Column struct {
	Width int `json:"width"`
}

type TableRow struct {
	Type  string      `json:"type"`
	Style string      `json:"style,omitempty"`
	Cells []TableCell `json:"cells"`
}

type TableCell struct {
	Type  string    `json:"type"`
	Items []Element `json:"items"`
}

type Action struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// HeaderSeverity grades the whole report by the peak CPU value.
func HeaderSeverity(r model.RunResult) Severity {
	return CPUThresholds.Classify(r.PeakCPU)
}

// RenderCard builds the Teams webhook payload. r is not modified.
func RenderCard(r model.RunResult) Message {
	sev := HeaderSeverity(r)
	body := []Element{
		{Type: "TextBlock", Text: sev.Icon() + " CloudSQL Monitoring Report", Size: "Large", Weight: "Bolder", Color: sev.Color()},
		{Type: "TextBlock", Text: "Project: " + r.ProjectID, Size: "Medium", IsSubtle: true, Spacing: "None"},
		{Type: "TextBlock", Text: "Report Time: " + r.GeneratedAt.UTC().Format(timeLayout) + " UTC", Size: "Small", IsSubtle: true, Spacing: "None"},
		{Type: "TextBlock", Text: PeakLine(r), Weight: "Bolder", Color: sev.Color(), Wrap: true},
		table(r.Summaries),
	}
	if len(estimateNotes(r.Summaries)) > 0 {
		body = append(body, Element{Type: "TextBlock", Text: estimatedMarker + " estimated: no samples in window", Size: "Small", IsSubtle: true, Wrap: true})
	}

	return Message{
		Type: "message",
		Attachments: []Attachment{{
			ContentType: adaptiveCardContentType,
			Content: AdaptiveCard{
				Schema:  adaptiveCardSchema,
				Type:    "AdaptiveCard",
				Version: adaptiveCardVersion,
				Body:    body,
				Actions: []Action{{
					Type:  "Action.OpenUrl",
					Title: "View in Google Cloud Console",
					URL:   "https://console.cloud.google.com/sql/instances?project=" + url.QueryEscape(r.ProjectID),
				}},
			},
		}},
	}
}

func table(summaries []model.InstanceSummary) Element {
	header := TableRow{Type: "TableRow", Style: "accent"}
	for _, h := range TableHeader {
		header.Cells = append(header.Cells, cell(h, "", "Bolder"))
	}
	rows := make([]TableRow, 0, len(summaries)+1)
	rows = append(rows, header)
	for _, s := range summaries {
		rows = append(rows, TableRow{Type: "TableRow", Cells: []TableCell{
			cell(s.InstanceID, "", "Bolder"),
			metricCell(s.CPUUtilization, s.CPUSource, CPUThresholds, "~%.2f%%"),
			metricCell(s.QueryLatencyP99, s.LatencySource, LatencyThresholds, "~%.2fµs"),
			metricCell(s.ConnectionsPeak, s.ConnectionsSource, ConnectionsThresholds, "~%.0f"),
		}})
	}
	return Element{
		Type:    "Table",
		Columns: []Column{{Width: 2}, {Width: 1}, {Width: 1}, {Width: 1}},
		Rows:    rows,
	}
}

func metricCell(v *float64, src model.Provenance, t Thresholds, format string) TableCell {
	if v == nil {
		return cell("N/A", SeverityNormal.Color(), "")
	}
	text := fmt.Sprintf(format, *v)
	if src == model.Estimated {
		text += estimatedMarker
	}
	return cell(text, t.Classify(*v).Color(), "")
}

func cell(text, color, weight string) TableCell {
	return TableCell{Type: "TableCell", Items: []Element{{Type: "TextBlock", Text: text, Color: color, Weight: weight, Wrap: true}}}
}
