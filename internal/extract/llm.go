// File path: internal/extract/llm.go

// Package extract implements the two extractor collaborators and the
// follow-up generator. The LLM extractor is attempted first on every turn;
// any failure or empty result routes the turn to the regex+NER fallback.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"formloop/internal/common"
	"formloop/internal/llm"
	"formloop/internal/schema"
)

// maxCandidatePaths caps the addressable key universe sent to the model, a
// token-budget concession; the rest of the template stays reachable through
// the structured fill phases.
const maxCandidatePaths = 100

const extractPrompt = `You are an assistant that extracts structured form data from user input.

Conversation history:
%s

Available form fields (use exact keys):
%s

User message: %q

Return ONLY a valid JSON object with extracted fields. Keys MUST match the form fields exactly.
If nothing can be extracted, return {}.

Example output: {"Name": "John Doe", "Email ID": "john@example.com"}

JSON:`

// LLMExtract asks the model for a path -> value mapping. Keys the model
// invents outside the fill state are filtered out. Any transport or parse
// failure is an error; callers fall back rather than retry.
func LLMExtract(ctx context.Context, provider llm.Provider, userText, history string, state *schema.FlatMap) (map[string]interface{}, error) {
	if provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	candidates := state.Keys()
	if len(candidates) > maxCandidatePaths {
		candidates = candidates[:maxCandidatePaths]
	}
	schemaJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidate paths: %w", err)
	}
	prompt := fmt.Sprintf(extractPrompt, history, schemaJSON, userText)
	raw, err := provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	parsed := make(map[string]interface{})
	if err := json.Unmarshal([]byte(stripFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	filtered := make(map[string]interface{})
	for k, v := range parsed {
		if state.Has(k) {
			filtered[k] = v
		} else {
			common.Logger().Debug("extract: dropping unknown key from model", "key", k)
		}
	}
	return filtered, nil
}

// stripFence tolerates a markdown code fence around the JSON body.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
