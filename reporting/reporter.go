/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package reporting builds the execution summary of a plan run and renders it
// as a markdown analysis report.
package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
)

// outputExcerptLimit caps the captured output shown per node
const outputExcerptLimit = 4000

// defaultTemplate renders the analysis report
const defaultTemplate = `# Analysis Report: {{.Plan.Title}}

Plan: {{.Plan.ID}}
Generated: {{.Generated}}
{{- if .Plan.Description}}

{{.Plan.Description}}
{{- end}}

## Summary

| Total | Completed | Failed | Skipped |
|-------|-----------|--------|---------|
| {{.Summary.Total}} | {{.Summary.Completed}} | {{.Summary.Failed}} | {{.Summary.Skipped}} |
{{range .Completed}}
## [{{.NodeID}}] {{.NodeName}}
{{- if .CodeDescription}}

{{.CodeDescription}}
{{- end}}
{{- if or .HasVisualization (images .Files)}}

### Visualization
{{- if .VisualizationPurpose}}

{{.VisualizationPurpose}}
{{- end}}
{{- range images .Files}}

![{{base .}}]({{.}})
{{- end}}
{{- if .VisualizationAnalysis}}

{{.VisualizationAnalysis}}
{{- end}}
{{- end}}
{{- if .TextResponse}}

{{.TextResponse}}
{{- end}}
{{- if .Stdout}}

Output:

{{fence (excerpt .Stdout)}}
{{- end}}
{{- if .Files}}

Files:
{{- range .Files}}
- [{{.}}]({{.}})
{{- end}}
{{- end}}
{{end}}
{{- if .Failed}}
## Failures
{{range .Failed}}
- [{{.NodeID}}] {{.NodeName}}: {{firstLine .Error}} ({{.Attempts}} attempt{{if ne .Attempts 1}}s{{end}})
{{- end}}
{{end}}
{{- if .Skipped}}
## Skipped
{{range .Skipped}}
- [{{.NodeID}}] {{.NodeName}}: {{.Error}}
{{- end}}
{{end}}`

// Reporter renders analysis reports
type Reporter struct {
	logger *logging.Logger
	tmpl   *template.Template
	now    func() time.Time
}

// Option configures a Reporter
type Option func(*Reporter)

// WithClock sets the clock used for the generated time
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Reporter. A non-empty templateText replaces the default report layout.
func New(logger *logging.Logger, templateText string, opts ...Option) (*Reporter, error) {
	if templateText == "" {
		templateText = defaultTemplate
	}
	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	r := &Reporter{
		logger: logger,
		tmpl:   tmpl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"base":      path.Base,
		"images":    images,
		"excerpt":   excerpt,
		"firstLine": firstLine,
		"fence": func(s string) string {
			return "```text\n" + strings.TrimRight(s, "\n") + "\n```"
		},
		"json": func(v interface{}) string {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
	}
}

// Summarize builds the execution summary of a plan from its node records.
// It carries no timestamps so that rerunning a finished plan yields the same
// summary.
func Summarize(tree *global.PlanTree, records []*global.NodeExecutionRecord) *global.ExecutionSummary {
	s := &global.ExecutionSummary{
		PlanID:    tree.ID,
		PlanTitle: tree.Title,
		Total:     len(records),
		Files:     []string{},
		Records:   records,
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		switch rec.Status {
		case global.StatusCompleted:
			s.Completed++
		case global.StatusFailed:
			s.Failed++
		case global.StatusSkipped:
			s.Skipped++
		}
		for _, f := range rec.Files {
			if !seen[f] {
				seen[f] = true
				s.Files = append(s.Files, f)
			}
		}
	}
	sort.Strings(s.Files)
	s.Success = s.Total > 0 && s.Completed == s.Total
	return s
}

// ReportPath returns the report location for a plan
func ReportPath(outputDir string, planID int) string {
	return filepath.Join(outputDir, fmt.Sprintf(global.ReportFilePattern, planID))
}

type reportData struct {
	Plan      *global.PlanTree
	Summary   *global.ExecutionSummary
	Generated string
	Completed []*global.NodeExecutionRecord
	Failed    []*global.NodeExecutionRecord
	Skipped   []*global.NodeExecutionRecord
}

// Render renders the report for a summary
func (r *Reporter) Render(tree *global.PlanTree, summary *global.ExecutionSummary) (string, error) {
	data := reportData{
		Plan:      tree,
		Summary:   summary,
		Generated: r.now().UTC().Format(time.RFC3339),
	}
	for _, rec := range summary.Records {
		switch rec.Status {
		case global.StatusCompleted:
			data.Completed = append(data.Completed, rec)
		case global.StatusFailed:
			data.Failed = append(data.Failed, rec)
		case global.StatusSkipped:
			data.Skipped = append(data.Skipped, rec)
		}
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

// Write renders the report into outputDir, records its path in the summary
// and writes the summary next to it as JSON
func (r *Reporter) Write(outputDir string, tree *global.PlanTree, summary *global.ExecutionSummary) error {
	summary.ReportPath = ReportPath(outputDir, tree.ID)

	report, err := r.Render(tree, summary)
	if err != nil {
		return err
	}
	if err := global.AtomicWrite(summary.ReportPath, []byte(report)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := global.WriteJSON(filepath.Join(outputDir, global.SummaryFileName), summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if r.logger != nil {
		r.logger.Infof("Wrote report for plan %d to %s", tree.ID, summary.ReportPath)
	}
	return nil
}

// images returns the files that can be embedded as images
func images(files []string) []string {
	var out []string
	for _, f := range files {
		switch strings.ToLower(path.Ext(f)) {
		case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp":
			out = append(out, f)
		}
	}
	return out
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputExcerptLimit {
		return s
	}
	return s[:outputExcerptLimit] + "\n... (truncated)"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
