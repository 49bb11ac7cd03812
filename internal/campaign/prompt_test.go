package campaign

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequest_Prompt(t *testing.T) {
	r := &Request{
		Industry:           "Healthy Food Delivery",
		TargetAudience:     map[string]string{"location": "Bangkok", "age": "25-35"},
		Genders:            []string{"men", "women"},
		BudgetRange:        "500,000 THB",
		CampaignObjective:  "Lead Generation",
		Constraints:        "no alcohol",
		AdditionalComments: "launch in Q3",
	}

	want := "Generate a marketing campaign with the following details:\n" +
		"Industry: Healthy Food Delivery\n" +
		`Target Audience: {"age":"25-35","location":"Bangkok"}` + "\n" +
		"Genders: men, women\n" +
		"Budget Range: 500,000 THB\n" +
		"Objective: Lead Generation\n" +
		"Constraints: no alcohol\n" +
		"Additional Comments: launch in Q3"

	if got := r.Prompt(); got != want {
		t.Errorf("Prompt() =\n%s\nwant\n%s", got, want)
	}
}

func TestRegenerationParams(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "object", body: `{"industry":"Food"}`},
		{name: "empty object", body: `{}`},
		{name: "malformed", body: `{"industry":`, wantErr: true},
		{name: "null", body: `null`, wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "string", body: `"hi"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RegenerationParams([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("RegenerationParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegenerationPrompt(t *testing.T) {
	params := map[string]any{
		"industry":     "Food",
		"budget_range": "1,000 THB",
		"callback_url": "https://hooks.example.com",
	}

	got, err := RegenerationPrompt(params)
	if err != nil {
		t.Fatalf("RegenerationPrompt() error = %v", err)
	}

	if !strings.HasPrefix(got, "Regenerate marketing campaign with the following modifications:\nOriginal Parameters: {\n  ") {
		t.Errorf("unexpected prefix:\n%s", got)
	}
	if !strings.HasSuffix(got, "\nPlease refine the campaign based on the original parameters.") {
		t.Errorf("unexpected suffix:\n%s", got)
	}

	start := strings.Index(got, "{")
	end := strings.LastIndex(got, "}")
	var embedded map[string]any
	if err := json.Unmarshal([]byte(got[start:end+1]), &embedded); err != nil {
		t.Fatalf("embedded parameters are not JSON: %v", err)
	}
	if embedded[RegenerationFlag] != true {
		t.Errorf("is_regeneration = %v", embedded[RegenerationFlag])
	}
	if embedded["industry"] != "Food" {
		t.Errorf("industry = %v", embedded["industry"])
	}
	if _, ok := embedded["callback_url"]; ok {
		t.Error("callback_url should not be part of the prompt")
	}

	if _, ok := params[RegenerationFlag]; ok {
		t.Error("caller's map was modified")
	}
}

func TestRequest_Prompt_KeepsMarkupCharacters(t *testing.T) {
	r := &Request{
		Industry:          "R&D <Labs>",
		TargetAudience:    map[string]string{"lifestyle": "Work & Play <urban>"},
		Genders:           []string{"women"},
		BudgetRange:       "1 THB",
		CampaignObjective: "Awareness",
	}

	got := r.Prompt()
	if !strings.Contains(got, "Industry: R&D <Labs>\n") {
		t.Errorf("industry altered:\n%s", got)
	}
	if !strings.Contains(got, `Target Audience: {"lifestyle":"Work & Play <urban>"}`+"\n") {
		t.Errorf("target audience altered:\n%s", got)
	}
	if strings.Contains(got, `\u00`) {
		t.Errorf("prompt contains escaped characters:\n%s", got)
	}
}

func TestRegenerationPrompt_PreservesValues(t *testing.T) {
	params, err := RegenerationParams([]byte(`{"industry":"R&D <Labs>","budget":12345678901234567890,"ratio":0.25}`))
	if err != nil {
		t.Fatalf("RegenerationParams() error = %v", err)
	}

	got, err := RegenerationPrompt(params)
	if err != nil {
		t.Fatalf("RegenerationPrompt() error = %v", err)
	}

	for _, want := range []string{
		`"industry": "R&D <Labs>"`,
		`"budget": 12345678901234567890`,
		`"ratio": 0.25`,
		`"is_regeneration": true`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %s:\n%s", want, got)
		}
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("prompt ends with a trailing newline")
	}
}

func TestRegenerationParams_TrailingData(t *testing.T) {
	if _, err := RegenerationParams([]byte(`{"industry":"Food"} {"x":1}`)); err == nil {
		t.Error("expected error for trailing data")
	}
}
