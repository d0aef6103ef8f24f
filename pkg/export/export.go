package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/history"
)

// Format is a downloadable representation of a research record.
type Format string

const (
	Markdown Format = "md"
	HTML     Format = "html"
	JSON     Format = "json"
)

// Formats lists every export format in display order.
var Formats = []Format{Markdown, HTML, JSON}

// ParseFormat accepts "md", "markdown", "html" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return Markdown, nil
	case "html":
		return HTML, nil
	case "json":
		return JSON, nil
	}
	return "", fmt.Errorf("unsupported export format: %q", s)
}

// ContentType is the MIME type served for a format.
func (f Format) ContentType() string {
	switch f {
	case HTML:
		return "text/html"
	case JSON:
		return "application/json"
	default:
		return "text/markdown"
	}
}

// FileName derives the download name, e.g. "quantum_computing_report.md".
func FileName(topic string, f Format) string {
	return strings.ReplaceAll(topic, " ", "_") + "_report." + string(f)
}

// ToMarkdown returns the report unchanged.
func ToMarkdown(rec history.ResearchRecord) string {
	return rec.FinalReport
}

const generatedLayout = "2006-01-02 15:04:05"

// ToHTML wraps the report in a fixed page. Topic and report are inserted
// verbatim without escaping.
func ToHTML(rec history.ResearchRecord) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Research Report: %[1]s</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        h1 { color: #667eea; }
        .metadata { background: #f0f2f6; padding: 15px; border-radius: 8px; margin: 20px 0; }
    </style>
</head>
<body>
    <h1>Research Report: %[1]s</h1>
    <div class="metadata">
        <p><strong>Generated:</strong> %[2]s</p>
        <p><strong>Template:</strong> %[3]s</p>
        <p><strong>Research Time:</strong> %[4]s seconds</p>
    </div>
    %[5]s
</body>
</html>`,
		rec.Topic,
		rec.SubmittedAt.Format(generatedLayout),
		template(rec),
		fmt.Sprintf("%.1f", rec.Metrics.ResearchTimeSeconds),
		strings.ReplaceAll(rec.FinalReport, "\n", "<br>"),
	)
}

// Envelope is the JSON export document.
type Envelope struct {
	Topic     string          `json:"topic"`
	Timestamp string          `json:"timestamp"`
	Template  string          `json:"template"`
	Metrics   EnvelopeMetrics `json:"metrics"`
	Report    string          `json:"report"`
}

type EnvelopeMetrics struct {
	ResearchTime float64 `json:"research_time"`
	MaxDepth     int     `json:"max_depth"`
	MaxURLs      int     `json:"max_urls"`
}

// ToJSON encodes the record as an indented envelope. The timestamp is the
// submission time in RFC 3339.
func ToJSON(rec history.ResearchRecord) (string, error) {
	env := Envelope{
		Topic:     rec.Topic,
		Timestamp: rec.SubmittedAt.Format(time.RFC3339Nano),
		Template:  template(rec),
		Metrics: EnvelopeMetrics{
			ResearchTime: rec.Metrics.ResearchTimeSeconds,
			MaxDepth:     rec.Metrics.MaxDepth,
			MaxURLs:      rec.Metrics.MaxURLs,
		},
		Report: rec.FinalReport,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Encode renders rec in the requested format.
func Encode(rec history.ResearchRecord, f Format) (string, error) {
	switch f {
	case Markdown:
		return ToMarkdown(rec), nil
	case HTML:
		return ToHTML(rec), nil
	case JSON:
		return ToJSON(rec)
	}
	return "", fmt.Errorf("unsupported export format: %q", f)
}

func template(rec history.ResearchRecord) string {
	if rec.Metrics.Template != "" {
		return rec.Metrics.Template
	}
	return history.DefaultTemplate
}
