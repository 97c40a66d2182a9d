package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/http"
)

// TeamsNotifier posts an Adaptive Card to a Microsoft Teams webhook.
type TeamsNotifier struct {
	webhookURL string
	client     *http.Client
}

type TeamsOption func(*TeamsNotifier)

func WithTeamsClient(c *http.Client) TeamsOption {
	return func(t *TeamsNotifier) {
		t.client = c
	}
}

func NewTeamsNotifier(webhookURL string, opts ...TeamsOption) *TeamsNotifier {
	t := &TeamsNotifier{webhookURL: webhookURL}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = http.NewClient(http.WithTimeout(10 * time.Second))
	}
	return t
}

func (t *TeamsNotifier) Name() string {
	return "teams"
}

type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	ContentURL  *string          `json:"contentUrl"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

type teamsBlock struct {
	Type      string        `json:"type"`
	Size      string        `json:"size,omitempty"`
	Weight    string        `json:"weight,omitempty"`
	Text      string        `json:"text,omitempty"`
	Color     string        `json:"color,omitempty"`
	Wrap      bool          `json:"wrap,omitempty"`
	Columns   []teamsColumn `json:"columns,omitempty"`
	Spacing   string        `json:"spacing,omitempty"`
	Separator bool          `json:"separator,omitempty"`
}

type teamsColumn struct {
	Type  string       `json:"type"`
	Width string       `json:"width"`
	Items []teamsBlock `json:"items"`
}

func statColumn(label, value, color string) teamsColumn {
	return teamsColumn{
		Type:  "Column",
		Width: "stretch",
		Items: []teamsBlock{
			{Type: "TextBlock", Text: "**" + label + "**", Wrap: true},
			{Type: "TextBlock", Text: value, Color: color, Wrap: true},
		},
	}
}

func (t *TeamsNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	color := "good"
	if !summary.Success() {
		color = "attention"
	}

	body := []teamsBlock{
		{Type: "TextBlock", Size: "Large", Weight: "Bolder", Text: headline(summary), Color: color},
		{
			Type:      "ColumnSet",
			Separator: true,
			Spacing:   "Medium",
			Columns: []teamsColumn{
				statColumn("Steps", fmt.Sprintf("%d", summary.Steps), ""),
				statColumn("Passed", fmt.Sprintf("%d", summary.Passed), "good"),
				statColumn("Failed", fmt.Sprintf("%d", summary.Failed), "attention"),
				statColumn("Duration", summary.Duration.Round(time.Millisecond).String(), ""),
			},
		},
	}

	if summary.Environment != "" {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "**Environment:** " + summary.Environment, Wrap: true})
	}

	if len(summary.Failures) > 0 {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "**Failed steps:**", Separator: true, Spacing: "Medium"})
		for _, f := range summary.Failures {
			text := fmt.Sprintf("- `%s`", f.Step)
			if f.File != "" {
				text += fmt.Sprintf(" (%s)", f.File)
			}
			body = append(body, teamsBlock{Type: "TextBlock", Text: text, Wrap: true})
			for _, e := range f.Errors {
				body = append(body, teamsBlock{Type: "TextBlock", Text: "  - " + e, Wrap: true})
			}
		}
	}

	body = append(body, teamsBlock{
		Type:      "TextBlock",
		Text:      fmt.Sprintf("_hitscript - %s_", time.Now().Format(time.RFC3339)),
		Separator: true,
		Spacing:   "Medium",
	})

	msg := teamsMessage{
		Type: "message",
		Attachments: []teamsCard{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.2",
				Body:    body,
			},
		}},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Teams message: %w", err)
	}
	return postJSON(ctx, t.client, t.webhookURL, data)
}
