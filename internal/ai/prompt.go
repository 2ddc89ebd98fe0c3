package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You operate a web application on behalf of a user by choosing UI actions.

You will receive a JSON object with:
- "goal": what the user wants to achieve
- "ui_state": the current screen name and the interactive elements (id, role, text, value, visible, disabled)
- "conversation_history": your earlier reasoning in this run

Available actions:
- {"name": "click_element", "args": {"element_id": "<id>"}}
- {"name": "set_value", "args": {"element_id": "<id>", "value": "<text>"}}
- {"name": "navigate_to", "args": {"screen": "<screen name>"}}

Respond with ONE JSON object:
{"type": "actions", "reasoning": "...", "actions": [...]}   to act now
{"type": "complete", "reasoning": "...", "completed": true}  when the goal is achieved
{"type": "no_action", "reasoning": "..."}                    when nothing useful can be done
{"type": "error", "error": "..."}                            when the goal is impossible

Guidelines:
- Use only element ids present in ui_state
- Prefer a few actions per step; the screen is re-read after every step
- Never invent elements that are not in ui_state yet

Respond ONLY with the JSON object, no explanation or markdown.`

func buildUserPrompt(req PlanRequest) (string, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []Message{}
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan request: %w", err)
	}
	return string(data), nil
}

// parsePlanJSON extracts and parses a JSON object from a response that may contain surrounding text
func parsePlanJSON(response string) (*PlanResponse, error) {
	var out PlanResponse
	if err := json.Unmarshal([]byte(response), &out); err == nil {
		if err := out.Validate(); err != nil {
			return nil, err
		}
		return &out, nil
	}

	obj, ok := firstObject(response)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// firstObject returns the first balanced {...} in s, skipping braces inside strings
func firstObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
