package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ParseJSONResponse parses a JSON response from an LLM, handling markdown code blocks.
func ParseJSONResponse(text string) map[string]any {
	var result map[string]any
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		logrus.Warnf("Failed to parse LLM response as JSON: %v", err)
		return nil
	}
	return result
}

// ParseJSONInto decodes an LLM response into a typed struct, handling
// markdown code blocks.
func ParseJSONInto(text string, out any) error {
	clean := stripFences(text)
	if clean == "" {
		return fmt.Errorf("empty LLM response")
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("parsing LLM response: %w", err)
	}
	return nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}
