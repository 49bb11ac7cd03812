// Package campaign holds the campaign domain: the request a client submits,
// the prompts built from it, and the structured outputs each pipeline stage
// is asked to produce.
package campaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// Genders accepted in a request, compared case-insensitively.
var Genders = []string{"men", "women", "non-binary", "all"}

const (
	industryMinLen = 2
	industryMaxLen = 100
	freeTextMaxLen = 2000
)

// Request is a campaign generation request. It is immutable once decoded.
type Request struct {
	Industry           string            `json:"industry"`
	TargetAudience     map[string]string `json:"target_audience"`
	Genders            []string          `json:"genders"`
	BudgetRange        string            `json:"budget_range"`
	CampaignObjective  string            `json:"campaign_objective"`
	Constraints        string            `json:"constraints"`
	AdditionalComments string            `json:"additional_comments"`
	CallbackURL        string            `json:"callback_url,omitempty"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid campaign request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// DecodeRequest parses and validates a request body. Type mismatches,
// missing required fields and rule violations are all reported together as a
// *ValidationError.
func DecodeRequest(body []byte) (*Request, error) {
	verr := &ValidationError{}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		verr.add("body", "invalid JSON object: %v", err)
		return nil, verr
	}

	var req Request
	decodeField(raw, "industry", &req.Industry, true, verr)
	decodeField(raw, "target_audience", &req.TargetAudience, true, verr)
	decodeField(raw, "genders", &req.Genders, true, verr)
	decodeField(raw, "budget_range", &req.BudgetRange, true, verr)
	decodeField(raw, "campaign_objective", &req.CampaignObjective, true, verr)
	decodeField(raw, "constraints", &req.Constraints, false, verr)
	decodeField(raw, "additional_comments", &req.AdditionalComments, false, verr)
	decodeField(raw, "callback_url", &req.CallbackURL, false, verr)

	// Fields that failed to decode are already reported; only check rules
	// for the ones that made it through.
	failed := make(map[string]bool, len(verr.Fields))
	for _, f := range verr.Fields {
		failed[f.Field] = true
	}
	req.validate(verr, failed)

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return &req, nil
}

// Validate checks a request built in code rather than decoded from JSON.
func (r *Request) Validate() error {
	verr := &ValidationError{}
	r.validate(verr, nil)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (r *Request) validate(verr *ValidationError, skip map[string]bool) {
	if !skip["industry"] {
		n := utf8.RuneCountInString(r.Industry)
		switch {
		case strings.TrimSpace(r.Industry) == "":
			verr.add("industry", "must not be empty")
		case n < industryMinLen:
			verr.add("industry", "must be at least %d characters", industryMinLen)
		case n > industryMaxLen:
			verr.add("industry", "must be at most %d characters", industryMaxLen)
		}
	}

	if !skip["target_audience"] {
		for _, key := range sortedKeys(r.TargetAudience) {
			if strings.TrimSpace(key) == "" {
				verr.add("target_audience", "attribute names must not be empty")
				break
			}
		}
	}

	if !skip["genders"] {
		if len(r.Genders) == 0 {
			verr.add("genders", "must list at least one gender")
		}
		for i, g := range r.Genders {
			if !isKnownGender(g) {
				verr.add(fmt.Sprintf("genders[%d]", i), "must be one of %s", strings.Join(Genders, ", "))
			}
		}
	}

	if !skip["budget_range"] && strings.TrimSpace(r.BudgetRange) == "" {
		verr.add("budget_range", "must not be empty")
	}
	if !skip["campaign_objective"] && strings.TrimSpace(r.CampaignObjective) == "" {
		verr.add("campaign_objective", "must not be empty")
	}
	if !skip["constraints"] && utf8.RuneCountInString(r.Constraints) > freeTextMaxLen {
		verr.add("constraints", "must be at most %d characters", freeTextMaxLen)
	}
	if !skip["additional_comments"] && utf8.RuneCountInString(r.AdditionalComments) > freeTextMaxLen {
		verr.add("additional_comments", "must be at most %d characters", freeTextMaxLen)
	}
	if !skip["callback_url"] && r.CallbackURL != "" {
		if err := ValidateCallbackURL(r.CallbackURL); err != nil {
			verr.add("callback_url", "%v", err)
		}
	}
}

// ValidateCallbackURL requires an absolute http or https URL.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

func decodeField(raw map[string]json.RawMessage, name string, dst any, required bool, verr *ValidationError) {
	value, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		if required {
			verr.add(name, "field required")
		}
		return
	}
	if err := json.Unmarshal(value, dst); err != nil {
		verr.add(name, "wrong type: %s", describeTypeError(err))
	}
}

func describeTypeError(err error) string {
	if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	return err.Error()
}

func isKnownGender(g string) bool {
	g = strings.ToLower(strings.TrimSpace(g))
	for _, known := range Genders {
		if g == known {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
