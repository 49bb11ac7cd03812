package pipeline

import (
	"github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/prompts"
)

// Name identifies a pipeline stage.
type Name string

const (
	StageStrategy  Name = "strategy"
	StageConcept   Name = "concept"
	StageChannel   Name = "channel"
	StageKPI       Name = "kpi"
	StageEvaluator Name = "evaluator"
	StagePresenter Name = "presenter"
)

// Stage pairs a prompt template with the schema its output should follow.
type Stage struct {
	Name     Name
	Template prompts.Name
	Output   campaign.OutputKind
	Schema   map[string]any
	// Consumes lists the earlier stages whose outputs the template embeds.
	Consumes []Name
}

// Stages returns the stage definitions in execution order. The slice is
// freshly built on every call.
func Stages() []Stage {
	return []Stage{
		{
			Name:     StageStrategy,
			Template: prompts.Strategy,
			Output:   campaign.KindStrategy,
			Schema:   campaign.StrategySchema(),
		},
		{
			Name:     StageConcept,
			Template: prompts.Concept,
			Output:   campaign.KindConcept,
			Schema:   campaign.ConceptSchema(),
			Consumes: []Name{StageStrategy},
		},
		{
			Name:     StageChannel,
			Template: prompts.Channel,
			Output:   campaign.KindChannel,
			Schema:   campaign.ChannelSchema(),
			Consumes: []Name{StageStrategy, StageConcept},
		},
		{
			Name:     StageKPI,
			Template: prompts.KPI,
			Output:   campaign.KindKPI,
			Schema:   campaign.KPISchema(),
			Consumes: []Name{StageStrategy, StageConcept, StageChannel},
		},
		{
			Name:     StageEvaluator,
			Template: prompts.Evaluator,
			Output:   campaign.KindEvaluation,
			Schema:   campaign.EvaluationSchema(),
			Consumes: []Name{StageStrategy, StageConcept, StageChannel, StageKPI},
		},
		{
			Name:     StagePresenter,
			Template: prompts.Presenter,
			Output:   campaign.KindPresentation,
			Schema:   campaign.PresentationSchema(),
			Consumes: []Name{StageStrategy, StageConcept, StageChannel, StageKPI, StageEvaluator},
		},
	}
}
