package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled patterns. Models wrap JSON in code fences or prose more often
// than not, so extraction runs on every generation.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// ExtractJSON pulls a JSON object out of a model response. Strategy sequence:
// direct parse, code-fence contents, trailing-comma cleanup, then the widest
// brace-delimited span in mixed prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidates := []string{strings.TrimSpace(text)}

	if m := codeFenceRegex.FindStringSubmatch(text); len(m) > 1 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := objectRegex.FindString(text); m != "" {
		candidates = append(candidates, m)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if valid(candidate) {
			return json.RawMessage(candidate), nil
		}
		cleaned := trailingCommaRegex.ReplaceAllString(candidate, "$1")
		if cleaned != candidate && valid(cleaned) {
			return json.RawMessage(cleaned), nil
		}
	}
	return nil, fmt.Errorf("no parseable JSON found in %d characters of response", len(text))
}

func valid(s string) bool {
	return json.Valid([]byte(s))
}
