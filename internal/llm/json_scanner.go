package llm

import (
	"encoding/json"
	"fmt"
)

// findJSONCandidates scans the input string for top-level JSON object
// candidates. It handles nested braces and string escaping to correctly
// identify boundaries, which matters because model output often wraps the
// JSON in prose or markdown fences.
//
// Note: It is safe to iterate bytes for ASCII delimiters ({, }, ", \)
// because UTF-8 encoding guarantees that ASCII bytes never appear as part
// of a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var candidates []string
	var depth int
	var start int = -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		// Handle escape sequences inside strings
		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		// Not in string
		if b == '"' {
			inString = true
			continue
		}

		if b == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == '}' {
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					// Found a complete top-level object
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}

// DecodeFirstJSON unmarshals the first JSON object candidate in s that
// parses into v. Returns an error when no candidate parses.
func DecodeFirstJSON(s string, v interface{}) error {
	candidates := findJSONCandidates(s)
	if len(candidates) == 0 {
		return fmt.Errorf("no JSON object found in model output")
	}
	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("no JSON candidate parsed: %w", lastErr)
}
