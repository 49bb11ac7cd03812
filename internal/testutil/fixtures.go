package testutil

// HealthyFoodRequest is the reference campaign request used across tests.
const HealthyFoodRequest = `{
  "industry": "Healthy Food Delivery",
  "target_audience": {"age": "25-35", "location": "Bangkok", "lifestyle": "Working Millennials"},
  "genders": ["men", "women"],
  "budget_range": "500,000 THB",
  "campaign_objective": "Lead Generation"
}`

// Canned stage outputs for HealthyFoodRequest, in pipeline order.
const (
	StrategyFixture = `{"consumer_insight":"Busy professionals want healthy meals without cooking","market_context":"Bangkok delivery market is crowded but health niche is growing","opportunities_and_challenges":["Rising health awareness","Price sensitivity"],"recommended_direction":"Lead Generation","reasoning":"A free first meal captures qualified leads"}`

	ConceptFixture = `{"big_idea":"Eat Well, Work Well","key_messages":["Fresh meals in 30 minutes","Nutritionist designed"],"campaign_themes":["Office wellness"],"storytelling_hooks":["A day in the life of a desk warrior"]}`

	ChannelFixture = `{"media_mix":[{"platform":"Facebook","allocation":"40%"},{"platform":"TikTok","allocation":"35%"},{"platform":"Google","allocation":"25%"}],"activity_formats":[{"challenge":["7-day clean lunch challenge"]},{"influencer":["Office micro-influencers"]}],"rationale":"Millennials in Bangkok are most reachable on social video"}`

	KPIFixture = `{"budget":"500,000 THB","estimated_metrics":{"Reach":"1,500,000","Leads":"4,000","CPL":"125 THB"},"assumptions_used":["CPM of 80 THB","2% landing page conversion"]}`

	EvaluationFixture = `{"validation_status":"Valid","flagged_issues":[],"recommendations":["Add a retargeting layer"]}`

	PresentationFixture = `{"big_idea":"กินดี ทำงานดี","key_messages":["อาหารสดใน 30 นาที","ออกแบบโดยนักโภชนาการ"],"channels":["Facebook","TikTok","Google"],"kpis":{"Leads":"4,000","CPL":"125 THB"}}`
)

// StageFixtures lists the canned outputs in pipeline order.
var StageFixtures = []string{
	StrategyFixture,
	ConceptFixture,
	ChannelFixture,
	KPIFixture,
	EvaluationFixture,
	PresentationFixture,
}
