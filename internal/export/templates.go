package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var briefTemplate = template.Must(template.New("brief").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(briefTemplateHTML))

// TemplateData holds data for project brief rendering
type TemplateData struct {
	ProjectName string
	TeamName    string
	GeneratedAt time.Time

	Tagline    string
	Synopsis   string
	Backstory  string
	Characters string

	GoalsUser         string
	GoalsCreative     string
	GoalsEconomic     string
	SuccessIndicators string
	TargetAudience    string
	UserNeed          string
	BusinessModels    string

	PlotPoints    []string
	UserScenarios []string
	Feedback      []TemplateFeedback
}

// TemplateFeedback holds one feedback log entry for the template
type TemplateFeedback struct {
	SharedItem string
	Platform   string
	Feedback   string
	LoggedAt   time.Time
}

// HasTreatment reports whether any treatment field has content.
func (d TemplateData) HasTreatment() bool {
	return d.Tagline != "" || d.Synopsis != "" || d.Backstory != "" || d.Characters != ""
}

// HasBusiness reports whether any business-details field has content.
func (d TemplateData) HasBusiness() bool {
	return d.GoalsUser != "" || d.GoalsCreative != "" || d.GoalsEconomic != "" ||
		d.SuccessIndicators != "" || d.TargetAudience != "" || d.UserNeed != "" ||
		d.BusinessModels != ""
}

// RenderBriefHTML renders the project brief template with provided data
func RenderBriefHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := briefTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const briefTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .field-label { color: #666; font-size: 0.85em; text-transform: uppercase; margin-bottom: 0.2rem; }
    .field { margin: 1rem 0; white-space: pre-wrap; }
    ol li { margin: 0.5rem 0; }
    .feedback { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .feedback .source { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">{{.TeamName}} | {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>

  {{if .HasTreatment}}
  <h2>Treatment</h2>
  {{if .Tagline}}<div class="field"><div class="field-label">Tagline</div>{{.Tagline}}</div>{{end}}
  {{if .Synopsis}}<div class="field"><div class="field-label">Synopsis</div>{{.Synopsis}}</div>{{end}}
  {{if .Backstory}}<div class="field"><div class="field-label">Backstory &amp; Context</div>{{.Backstory}}</div>{{end}}
  {{if .Characters}}<div class="field"><div class="field-label">Characterization &amp; Attitude</div>{{.Characters}}</div>{{end}}
  {{end}}

  {{if .HasBusiness}}
  <h2>Business Details</h2>
  {{if .GoalsUser}}<div class="field"><div class="field-label">User Goals</div>{{.GoalsUser}}</div>{{end}}
  {{if .GoalsCreative}}<div class="field"><div class="field-label">Creative Goals</div>{{.GoalsCreative}}</div>{{end}}
  {{if .GoalsEconomic}}<div class="field"><div class="field-label">Economic Goals</div>{{.GoalsEconomic}}</div>{{end}}
  {{if .SuccessIndicators}}<div class="field"><div class="field-label">Success Indicators</div>{{.SuccessIndicators}}</div>{{end}}
  {{if .TargetAudience}}<div class="field"><div class="field-label">Target Audience</div>{{.TargetAudience}}</div>{{end}}
  {{if .UserNeed}}<div class="field"><div class="field-label">User Need</div>{{.UserNeed}}</div>{{end}}
  {{if .BusinessModels}}<div class="field"><div class="field-label">Business Models</div>{{.BusinessModels}}</div>{{end}}
  {{end}}

  {{if .PlotPoints}}
  <h2>Plot Points</h2>
  <ol>{{range .PlotPoints}}<li>{{.}}</li>{{end}}</ol>
  {{end}}

  {{if .UserScenarios}}
  <h2>User Scenarios</h2>
  <ol>{{range .UserScenarios}}<li>{{.}}</li>{{end}}</ol>
  {{end}}

  {{if .Feedback}}
  <h2>Feedback Log</h2>
  {{range .Feedback}}
  <div class="feedback">
    <div class="source">{{.SharedItem}}{{if .Platform}} via {{.Platform}}{{end}} | {{formatDate .LoggedAt "Jan 2, 2006"}}</div>
    <div>{{.Feedback}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
