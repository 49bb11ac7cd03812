package campaign

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputKind names one of the six structured stage outputs.
type OutputKind string

const (
	KindStrategy     OutputKind = "strategy"
	KindConcept      OutputKind = "concept"
	KindChannel      OutputKind = "channel"
	KindKPI          OutputKind = "kpi"
	KindEvaluation   OutputKind = "evaluation"
	KindPresentation OutputKind = "presentation"
)

// CampaignDirection is the strategy stage's recommended direction.
type CampaignDirection string

const (
	DirectionAwareness      CampaignDirection = "Awareness"
	DirectionEngagement     CampaignDirection = "Engagement"
	DirectionLeadGeneration CampaignDirection = "Lead Generation"
	DirectionConversion     CampaignDirection = "Conversion"
)

func (d CampaignDirection) valid() bool {
	switch d {
	case DirectionAwareness, DirectionEngagement, DirectionLeadGeneration, DirectionConversion:
		return true
	}
	return false
}

// ValidationStatus is the evaluator's verdict on the plan.
type ValidationStatus string

const (
	StatusValid         ValidationStatus = "Valid"
	StatusNeedsRevision ValidationStatus = "Needs Revision"
	StatusUnrealistic   ValidationStatus = "Unrealistic"
)

func (s ValidationStatus) valid() bool {
	switch s {
	case StatusValid, StatusNeedsRevision, StatusUnrealistic:
		return true
	}
	return false
}

type StrategyOutput struct {
	ConsumerInsight            string            `json:"consumer_insight"`
	MarketContext              string            `json:"market_context"`
	OpportunitiesAndChallenges []string          `json:"opportunities_and_challenges"`
	RecommendedDirection       CampaignDirection `json:"recommended_direction"`
	Reasoning                  string            `json:"reasoning"`
}

type ConceptOutput struct {
	BigIdea           string   `json:"big_idea"`
	KeyMessages       []string `json:"key_messages"`
	CampaignThemes    []string `json:"campaign_themes"`
	StorytellingHooks []string `json:"storytelling_hooks"`
}

type MediaAllocation struct {
	Platform string `json:"platform"`
	// Allocation is free text, usually a percentage such as "30%".
	Allocation string `json:"allocation"`
}

type ChannelOutput struct {
	MediaMix        []MediaAllocation     `json:"media_mix"`
	ActivityFormats []map[string][]string `json:"activity_formats"`
	Rationale       string                `json:"rationale"`
}

type KPIOutput struct {
	Budget           string            `json:"budget"`
	EstimatedMetrics map[string]string `json:"estimated_metrics"`
	AssumptionsUsed  []string          `json:"assumptions_used"`
}

type EvaluationOutput struct {
	ValidationStatus ValidationStatus `json:"validation_status"`
	FlaggedIssues    []string         `json:"flagged_issues"`
	Recommendations  []string         `json:"recommendations"`
}

type PresentationOutput struct {
	BigIdea     string         `json:"big_idea"`
	KeyMessages []string       `json:"key_messages"`
	Channels    []string       `json:"channels"`
	KPIs        map[string]any `json:"kpis"`
}

// OutputError reports a stage output that does not match its schema.
type OutputError struct {
	Kind     OutputKind
	Problems []string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%s output does not match schema: %s", e.Kind, strings.Join(e.Problems, "; "))
}

var requiredKeys = map[OutputKind][]string{
	KindStrategy:     {"consumer_insight", "market_context", "opportunities_and_challenges", "recommended_direction", "reasoning"},
	KindConcept:      {"big_idea", "key_messages", "campaign_themes", "storytelling_hooks"},
	KindChannel:      {"media_mix", "activity_formats", "rationale"},
	KindKPI:          {"budget", "estimated_metrics", "assumptions_used"},
	KindEvaluation:   {"validation_status", "flagged_issues", "recommendations"},
	KindPresentation: {"big_idea", "key_messages", "channels", "kpis"},
}

// DecodeOutput parses text as the typed output for kind and checks required
// keys and enum values. Unknown keys are ignored. The returned value is a
// pointer to the matching *Output struct.
func DecodeOutput(kind OutputKind, text string) (any, error) {
	var out any
	switch kind {
	case KindStrategy:
		out = &StrategyOutput{}
	case KindConcept:
		out = &ConceptOutput{}
	case KindChannel:
		out = &ChannelOutput{}
	case KindKPI:
		out = &KPIOutput{}
	case KindEvaluation:
		out = &EvaluationOutput{}
	case KindPresentation:
		out = &PresentationOutput{}
	default:
		return nil, fmt.Errorf("unknown output kind %q", kind)
	}

	oerr := &OutputError{Kind: kind}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		oerr.Problems = append(oerr.Problems, fmt.Sprintf("not a JSON object: %v", err))
		return nil, oerr
	}
	for _, key := range requiredKeys[kind] {
		if _, ok := raw[key]; !ok {
			oerr.Problems = append(oerr.Problems, key+": field required")
		}
	}
	if len(oerr.Problems) > 0 {
		return nil, oerr
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		oerr.Problems = append(oerr.Problems, describeTypeError(err))
		return nil, oerr
	}

	switch v := out.(type) {
	case *StrategyOutput:
		if !v.RecommendedDirection.valid() {
			oerr.Problems = append(oerr.Problems, fmt.Sprintf("recommended_direction: unknown value %q", v.RecommendedDirection))
		}
	case *ChannelOutput:
		for i, m := range v.MediaMix {
			if strings.TrimSpace(m.Platform) == "" {
				oerr.Problems = append(oerr.Problems, fmt.Sprintf("media_mix[%d].platform: must not be empty", i))
			}
		}
	case *EvaluationOutput:
		if !v.ValidationStatus.valid() {
			oerr.Problems = append(oerr.Problems, fmt.Sprintf("validation_status: unknown value %q", v.ValidationStatus))
		}
	}
	if len(oerr.Problems) > 0 {
		return nil, oerr
	}
	return out, nil
}
