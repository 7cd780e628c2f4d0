// File path: internal/extract/followup.go
package extract

import (
	"context"
	"fmt"
	"strings"

	"formloop/internal/common"
	"formloop/internal/llm"
)

const followupPrompt = `You are a friendly onboarding assistant helping someone fill out a form.

Conversation so far:
%s

Just captured: %s
Still need: %d mandatory fields

Generate ONE natural, friendly question (1 sentence max) asking if the user has more information to share.
- Sound conversational and warm, not robotic
- Don't mention "fields" or "data" or "mandatory"
- Keep it casual and human

Question:`

// Followup generates the next conversational question. Model failures
// degrade to a canned sentence tiered by how much is still missing; a turn
// never fails because the follow-up generator did.
func Followup(ctx context.Context, provider llm.Provider, extractedKeys []string, missingCount int, history string) string {
	captured := "nothing new"
	if len(extractedKeys) > 0 {
		captured = strings.Join(extractedKeys, ", ")
	}
	if provider != nil {
		prompt := fmt.Sprintf(followupPrompt, history, captured, missingCount)
		answer, err := provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
		if err == nil {
			if trimmed := strings.TrimSpace(answer); trimmed != "" {
				return trimmed
			}
		} else {
			common.Logger().Debug("extract: follow-up generation failed", "error", err)
		}
	}
	switch {
	case missingCount > 15:
		return "Got it! Anything else you'd like to share before I ask specific questions?"
	case missingCount > 5:
		return "Thanks! Want to add anything else?"
	default:
		return "Perfect! Anything more you'd like to mention?"
	}
}
