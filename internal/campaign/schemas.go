package campaign

// JSON schemas sent as guided-generation constraints. The remote service
// enforces them; DecodeOutput re-checks the same shape locally when strict
// output validation is on.

func stringSchema() map[string]any {
	return map[string]any{"type": "string"}
}

func stringArraySchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": stringSchema(),
	}
}

func enumSchema(values ...string) map[string]any {
	return map[string]any{
		"type": "string",
		"enum": values,
	}
}

func objectSchema(title string, properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"title":      title,
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func StrategySchema() map[string]any {
	return objectSchema("StrategyAgentOutput", map[string]any{
		"consumer_insight":             stringSchema(),
		"market_context":               stringSchema(),
		"opportunities_and_challenges": stringArraySchema(),
		"recommended_direction": enumSchema(
			string(DirectionAwareness),
			string(DirectionEngagement),
			string(DirectionLeadGeneration),
			string(DirectionConversion),
		),
		"reasoning": stringSchema(),
	}, "consumer_insight", "market_context", "opportunities_and_challenges", "recommended_direction", "reasoning")
}

func ConceptSchema() map[string]any {
	return objectSchema("CreativeConceptAgentOutput", map[string]any{
		"big_idea":           stringSchema(),
		"key_messages":       stringArraySchema(),
		"campaign_themes":    stringArraySchema(),
		"storytelling_hooks": stringArraySchema(),
	}, "big_idea", "key_messages", "campaign_themes", "storytelling_hooks")
}

func mediaAllocationSchema() map[string]any {
	return objectSchema("MediaAllocation", map[string]any{
		"platform":   stringSchema(),
		"allocation": stringSchema(),
	}, "platform", "allocation")
}

func ChannelSchema() map[string]any {
	return objectSchema("ChannelPlannerAgentOutput", map[string]any{
		"media_mix": map[string]any{
			"type":  "array",
			"items": mediaAllocationSchema(),
		},
		// Each entry maps a format name to its example activities.
		"activity_formats": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": stringArraySchema(),
			},
		},
		"rationale": stringSchema(),
	}, "media_mix", "activity_formats", "rationale")
}

func KPISchema() map[string]any {
	return objectSchema("KPIGeneratorAgentOutput", map[string]any{
		"budget": stringSchema(),
		"estimated_metrics": map[string]any{
			"type":                 "object",
			"additionalProperties": stringSchema(),
		},
		"assumptions_used": stringArraySchema(),
	}, "budget", "estimated_metrics", "assumptions_used")
}

func EvaluationSchema() map[string]any {
	return objectSchema("EvaluatorValidatorAgentOutput", map[string]any{
		"validation_status": enumSchema(
			string(StatusValid),
			string(StatusNeedsRevision),
			string(StatusUnrealistic),
		),
		"flagged_issues":  stringArraySchema(),
		"recommendations": stringArraySchema(),
	}, "validation_status", "flagged_issues", "recommendations")
}

func PresentationSchema() map[string]any {
	return objectSchema("PresenterAgentOutput", map[string]any{
		"big_idea":     stringSchema(),
		"key_messages": stringArraySchema(),
		"channels":     stringArraySchema(),
		"kpis":         map[string]any{"type": "object"},
	}, "big_idea", "key_messages", "channels", "kpis")
}
