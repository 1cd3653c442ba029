package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Night Market", "Night-Market"},
		{"Pilot v1.2", "Pilot-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "project-brief"},
		{"Very Long Project Name That Exceeds Fifty Characters Limit", "Very-Long-Project-Name-That-Exceeds-Fifty-Characte"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderBriefHTML(t *testing.T) {
	data := TemplateData{
		ProjectName: "Night Market",
		TeamName:    "Studio North",
		GeneratedAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Tagline:     "A city that only exists after dark.",
		Synopsis:    "Two strangers keep meeting at a market nobody else remembers.",
		GoalsUser:   "Reach a weekly audience of commuters.",
		PlotPoints:  []string{"The market appears", "The vendor vanishes"},
		Feedback: []TemplateFeedback{
			{SharedItem: "Teaser clip", Platform: "YouTube", Feedback: "Loved the atmosphere.", LoggedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	html, err := RenderBriefHTML(data)
	if err != nil {
		t.Fatalf("RenderBriefHTML() error = %v", err)
	}

	for _, want := range []string{
		"Night Market",
		"Studio North",
		"A city that only exists after dark.",
		"Treatment",
		"Business Details",
		"The vendor vanishes",
		"Feedback Log",
		"Teaser clip",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestRenderBriefHTMLSkipsEmptySections(t *testing.T) {
	html, err := RenderBriefHTML(TemplateData{ProjectName: "Bare", GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("RenderBriefHTML() error = %v", err)
	}
	for _, absent := range []string{"Treatment", "Business Details", "Plot Points", "User Scenarios", "Feedback Log"} {
		if strings.Contains(html, absent) {
			t.Errorf("HTML should omit empty section %q", absent)
		}
	}
}

func TestRenderBriefHTMLEscapesUserText(t *testing.T) {
	html, err := RenderBriefHTML(TemplateData{
		ProjectName: "X",
		GeneratedAt: time.Now(),
		Tagline:     `<script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("RenderBriefHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("user text must be escaped in the brief")
	}
}
