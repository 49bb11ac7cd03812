// Package pipeline runs the six-stage campaign generation pipeline.
//
// Each stage renders its system prompt from the outputs of the stages it
// consumes, sends it together with the original user prompt to a
// completion.Completer, and records the raw text it gets back.
//
// # Stages
//
// Stages run strictly in order, each one only after the previous stage's
// output is available:
//
//	strategy -> concept -> channel -> kpi -> evaluator -> presenter
//
// The evaluator's verdict is passed to the presenter as text; it never sends
// the run back to an earlier stage.
//
// # Failure
//
// The first failing stage aborts the run. Its error is returned wrapped in a
// *StageError whose Unwrap yields the original error, no later stage runs,
// and no partial result is returned.
//
// # Output validation
//
// By default stage outputs are passed forward verbatim. With
// Options.ValidateOutputs each output is also decoded against its schema
// (see campaign.DecodeOutput) and a mismatch aborts the run. The text fed to
// later stages is the raw output in both modes.
package pipeline
