package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/m-mizutani/goerr/v2"
)

var codeBlockRegex = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```")

// ExtractJSON returns the first JSON object embedded in a model response.
// Markdown fences and surrounding prose are stripped. When the candidate is
// malformed (trailing commas, single quotes, truncated tail) it is repaired
// before being returned. The result is always valid JSON.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	sources := []string{text}
	if m := codeBlockRegex.FindStringSubmatch(text); len(m) > 1 {
		sources = []string{strings.TrimSpace(m[1]), text}
	}

	// valid objects win over repaired ones
	for _, repair := range []bool{false, true} {
		for _, src := range sources {
			if candidate, ok := firstObject(src, repair); ok {
				return candidate, nil
			}
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return "", goerr.Wrap(ErrNoJSON, "response has no object", goerr.V("text", truncate(text, 200)))
	}

	repaired, err := jsonrepair.JSONRepair(text[start:])
	if err != nil || !json.Valid([]byte(repaired)) {
		return "", goerr.Wrap(ErrNoJSON, "failed to repair JSON", goerr.V("text", truncate(text, 200)))
	}
	return repaired, nil
}

// firstObject scans for the first balanced {...} that parses as JSON, or
// that can be repaired into JSON when repair is set. Braces inside string
// literals are ignored.
func firstObject(text string, repair bool) (string, bool) {
	for start := strings.Index(text, "{"); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if !repair && json.Valid([]byte(candidate)) {
				return candidate, true
			}
			if repair {
				if repaired, err := jsonrepair.JSONRepair(candidate); err == nil && json.Valid([]byte(repaired)) {
					return repaired, true
				}
			}
		}

		next := strings.Index(text[start+1:], "{")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
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
				return i, true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
