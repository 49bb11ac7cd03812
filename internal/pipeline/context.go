package pipeline

import (
	"fmt"

	"github.com/tjfontaine/campaign-gateway/internal/prompts"
)

// StageOutput is the raw text one stage produced.
type StageOutput struct {
	Stage Name   `json:"stage"`
	Text  string `json:"text"`
}

// Context accumulates the outputs of one run. Outputs are only ever
// appended; a recorded output is never replaced. A Context belongs to a
// single run and is not safe for concurrent use.
type Context struct {
	UserPrompt string

	outputs []StageOutput
	index   map[Name]int
}

func newContext(userPrompt string) *Context {
	return &Context{
		UserPrompt: userPrompt,
		index:      make(map[Name]int, 6),
	}
}

// Output returns the text recorded for a stage.
func (c *Context) Output(name Name) (string, bool) {
	i, ok := c.index[name]
	if !ok {
		return "", false
	}
	return c.outputs[i].Text, true
}

// Outputs returns a copy of every recorded output in execution order.
func (c *Context) Outputs() []StageOutput {
	out := make([]StageOutput, len(c.outputs))
	copy(out, c.outputs)
	return out
}

// Final returns the last recorded output.
func (c *Context) Final() string {
	if len(c.outputs) == 0 {
		return ""
	}
	return c.outputs[len(c.outputs)-1].Text
}

func (c *Context) record(name Name, text string) error {
	if _, exists := c.index[name]; exists {
		return fmt.Errorf("stage %s already recorded", name)
	}
	c.index[name] = len(c.outputs)
	c.outputs = append(c.outputs, StageOutput{Stage: name, Text: text})
	return nil
}

// vars builds the template variables for a stage from the outputs it
// consumes. Outputs the stage does not consume are left empty.
func (c *Context) vars(consumes []Name) (prompts.Vars, error) {
	var v prompts.Vars
	for _, name := range consumes {
		text, ok := c.Output(name)
		if !ok {
			return v, fmt.Errorf("missing output of stage %s", name)
		}
		switch name {
		case StageStrategy:
			v.Strategy = text
		case StageConcept:
			v.Concept = text
		case StageChannel:
			v.Channel = text
		case StageKPI:
			v.KPI = text
		case StageEvaluator:
			v.Evaluation = text
		default:
			return v, fmt.Errorf("stage %s has no template variable", name)
		}
	}
	return v, nil
}
