// Package prompts holds the static system prompt templates used by the
// campaign pipeline. Templates are parsed once at init; rendering only
// interpolates prior stage outputs.
package prompts

import (
	"fmt"
	"strings"
	"text/template"
)

// Name identifies a template.
type Name string

const (
	Strategy  Name = "strategy"
	Concept   Name = "concept"
	Channel   Name = "channel"
	KPI       Name = "kpi"
	Evaluator Name = "evaluator"
	Presenter Name = "presenter"
	// Refine revises a finished campaign using client comments. It is not
	// part of the six-stage pipeline.
	Refine Name = "refine"
)

// Vars are the placeholders a template may reference. A template only reads
// the fields for the stages it consumes.
type Vars struct {
	Strategy   string
	Concept    string
	Channel    string
	KPI        string
	Evaluation string

	PreviousCampaign string
	ClientComments   string
}

const strategyText = `
You are a Strategy Agent.
Your job is to analyze consumer insight and market context,
then decide the right campaign direction (Awareness, Engagement, Lead Generation, or Conversion).
Output structured JSON that matches the schema.
`

const conceptText = `
You are a Creative Concept Agent.
Based on the Strategy below, create a Big Idea and Key Messages.
Also propose campaign themes and storytelling hooks.

Strategy:
{{.Strategy}}
`

const channelText = `
You are a Channel Planner Agent.
Choose the best media mix (Facebook, TikTok, Google, Offline) based on budget and audience.
Propose activity formats (challenge, influencer, event, gamification).

Strategy:
{{.Strategy}}

Creative Concept:
{{.Concept}}
`

const kpiText = `
You are a KPI Generator Agent.
Generate KPI metrics based on campaign objective, budget, and industry benchmarks.
Provide quantitative numbers (Reach, Leads, CPL, ROAS, etc.).

Strategy:
{{.Strategy}}

Creative Concept:
{{.Concept}}

Channel Plan:
{{.Channel}}
`

const evaluatorText = `
You are an Evaluator/Validator Agent.
Your role is to check the logic and realism of the campaign plan.
Flag unrealistic ideas (e.g., small budget but huge KPIs).
Provide recommendations for adjustment.

Strategy:
{{.Strategy}}

Creative Concept:
{{.Concept}}

Channel Plan:
{{.Channel}}

KPI Plan:
{{.KPI}}
`

const presenterText = `
You are a Presenter Agent.
Your role is to take all outputs and create a structured Campaign Concept Deck in Thai.
Make it easy to read with sections: Big Idea, Key Messages, Channels, KPIs, Evaluation.

Before finalizing the deck, review all content and make adjustments based on any comments or feedback from the senior. Ensure that the final output reflects these suggestions and is clear, concise, and suitable for presentation.

Strategy:
{{.Strategy}}

Creative Concept:
{{.Concept}}

Channel:
{{.Channel}}

KPI:
{{.KPI}}

Senior comment:
{{.Evaluation}}
`

const refineText = `
You are a highly skilled Marketing Campaign Expert.
Your role is to take the previous Marketing Campaign information along with the client's comments
and refine it into a clear, concise, and professional Campaign Concept Deck.

Previous Marketing Campaign:
{{.PreviousCampaign}}
Client Comments:
{{.ClientComments}}

Review the previous campaign, apply the client's feedback,
and produce a final Campaign Concept Deck that is engaging, aligned with the client's needs,
and ready for presentation.
`

var sources = map[Name]string{
	Strategy:  strategyText,
	Concept:   conceptText,
	Channel:   channelText,
	KPI:       kpiText,
	Evaluator: evaluatorText,
	Presenter: presenterText,
	Refine:    refineText,
}

var templates = func() map[Name]*template.Template {
	parsed := make(map[Name]*template.Template, len(sources))
	for name, text := range sources {
		parsed[name] = template.Must(template.New(string(name)).Parse(text))
	}
	return parsed
}()

// Render interpolates vars into the named template. Values are inserted
// verbatim; prior stage outputs are never escaped or reformatted.
func Render(name Name, vars Vars) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return sb.String(), nil
}

// Source returns the raw template text for name.
func Source(name Name) (string, bool) {
	text, ok := sources[name]
	return text, ok
}
