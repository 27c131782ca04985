package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONPath walks a dot-separated path ("data.items.0.id") through
// content, which is first parsed as JSON; a non-JSON content value only
// supports the empty path. This is the extract_path field the spec's
// SUPPLEMENTED FEATURES section adds to reference_tool_output, absent
// from the original tool's schema.
func extractJSONPath(content, path string) (string, error) {
	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return "", fmt.Errorf("result is not JSON: %w", err)
	}

	current := decoded
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return "", fmt.Errorf("no field %q", segment)
			}
			current = value
		case []any:
			index, err := parseIndex(segment)
			if err != nil || index < 0 || index >= len(node) {
				return "", fmt.Errorf("no index %q", segment)
			}
			current = node[index]
		default:
			return "", fmt.Errorf("cannot descend into %q at %q", path, segment)
		}
	}

	if s, ok := current.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(current)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func parseIndex(segment string) (int, error) {
	var index int
	_, err := fmt.Sscanf(segment, "%d", &index)
	return index, err
}
