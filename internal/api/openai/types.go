// Package openai provides the wire types and HTTP client for OpenAI-compatible
// chat completion endpoints (OpenAI, vLLM, and similar servers).
package openai

import (
	"encoding/json"
	"fmt"
)

// ChatCompletionRequest represents a chat completion request.
//
// TopK, ChatTemplateKwargs and GuidedJSON are extensions understood by vLLM
// style servers; they are omitted from the body when unset.
type ChatCompletionRequest struct {
	Model              string                  `json:"model"`
	Messages           []ChatCompletionMessage `json:"messages"`
	MaxTokens          int                     `json:"max_tokens,omitempty"`
	Temperature        *float32                `json:"temperature,omitempty"`
	TopP               *float32                `json:"top_p,omitempty"`
	PresencePenalty    float32                 `json:"presence_penalty,omitempty"`
	FrequencyPenalty   float32                 `json:"frequency_penalty,omitempty"`
	Stop               []string                `json:"stop,omitempty"`
	User               string                  `json:"user,omitempty"`
	ResponseFormat     *ResponseFormat         `json:"response_format,omitempty"`
	Seed               *int                    `json:"seed,omitempty"`
	TopK               int                     `json:"top_k,omitempty"`
	ChatTemplateKwargs map[string]any          `json:"chat_template_kwargs,omitempty"`
	GuidedJSON         any                     `json:"guided_json,omitempty"`
}

// ChatCompletionMessage represents a message in the chat completion request/response.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ResponseFormat specifies the format of the response.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec is the json_schema member of a structured output response format.
type JSONSchemaSpec struct {
	Name   string `json:"name"`
	Schema any    `json:"schema"`
	Strict bool   `json:"strict,omitempty"`
}

// ChatCompletionResponse represents a chat completion response.
type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model represents a served model.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList represents a list of models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorResponse represents an API error body.
// OpenAI nests the details under "error"; vLLM puts them at the top level.
type ErrorResponse struct {
	Error   *APIError `json:"error"`
	Object  string    `json:"object,omitempty"`
	Message string    `json:"message,omitempty"`
	Type    string    `json:"type,omitempty"`
	Code    any       `json:"code,omitempty"`
}

// APIError contains error details returned by the upstream server.
type APIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Param      any    `json:"param,omitempty"`
	Code       any    `json:"code,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	prefix := fmt.Sprintf("upstream status %d", e.StatusCode)
	if e.Type != "" {
		prefix += " " + e.Type
	}
	if e.Code != nil {
		prefix += fmt.Sprintf(" (%v)", e.Code)
	}
	return prefix + ": " + e.Message
}

// ParseErrorResponse attempts to parse an error response from JSON.
// It returns nil, nil when the body is JSON but carries no error details.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error != nil {
		return errResp.Error, nil
	}
	if errResp.Message != "" {
		return &APIError{
			Message: errResp.Message,
			Type:    errResp.Type,
			Code:    errResp.Code,
		}, nil
	}
	return nil, nil
}
