package campaign

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompt renders the user prompt every pipeline stage receives.
func (r *Request) Prompt() string {
	var sb strings.Builder
	sb.WriteString("Generate a marketing campaign with the following details:\n")
	fmt.Fprintf(&sb, "Industry: %s\n", r.Industry)
	fmt.Fprintf(&sb, "Target Audience: %s\n", formatAudience(r.TargetAudience))
	fmt.Fprintf(&sb, "Genders: %s\n", strings.Join(r.Genders, ", "))
	fmt.Fprintf(&sb, "Budget Range: %s\n", r.BudgetRange)
	fmt.Fprintf(&sb, "Objective: %s\n", r.CampaignObjective)
	fmt.Fprintf(&sb, "Constraints: %s\n", r.Constraints)
	fmt.Fprintf(&sb, "Additional Comments: %s", r.AdditionalComments)
	return sb.String()
}

// formatAudience renders attributes as JSON. Map keys are sorted by the
// encoder so the same request always yields the same prompt.
func formatAudience(audience map[string]string) string {
	if len(audience) == 0 {
		return "{}"
	}
	encoded, err := encodeJSON(audience, "")
	if err != nil {
		return fmt.Sprint(audience)
	}
	return encoded
}

// encodeJSON marshals v without HTML escaping so &, < and > reach the model
// as typed. A non-empty indent pretty-prints.
func encodeJSON(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// RegenerationFlag is merged into regeneration parameters.
const RegenerationFlag = "is_regeneration"

// RegenerationParams decodes an arbitrary JSON object of prior parameters.
// Anything other than a JSON object is rejected. Numbers are kept as
// json.Number so large integers survive unchanged.
func RegenerationParams(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON format: unexpected data after object")
	}
	if params == nil {
		return nil, fmt.Errorf("invalid JSON format: expected an object")
	}
	return params, nil
}

// RegenerationPrompt renders the prompt for a full regeneration run. The
// parameters are copied, flagged with is_regeneration and printed as indented
// JSON; the caller's map is not modified. callback_url is transport, not
// campaign content, and is left out.
func RegenerationPrompt(params map[string]any) (string, error) {
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		if k == "callback_url" {
			continue
		}
		merged[k] = v
	}
	merged[RegenerationFlag] = true

	encoded, err := encodeJSON(merged, "  ")
	if err != nil {
		return "", fmt.Errorf("encode regeneration parameters: %w", err)
	}

	return fmt.Sprintf(
		"Regenerate marketing campaign with the following modifications:\n"+
			"Original Parameters: %s\n"+
			"Please refine the campaign based on the original parameters.",
		encoded,
	), nil
}
