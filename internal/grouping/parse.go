package grouping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/coach/internal/retrieval"
)

type groupingResponse struct {
	Groups []struct {
		Name            string `json:"name"`
		FragmentIndices []int  `json:"fragment_indices"`
	} `json:"groups"`
}

// parseGroups turns an LLM clustering response into groups and validates
// that it describes a partition of the input: every 1-based fragment index
// present exactly once, none out of range. Parse errors stay inside this
// package; the caller downgrades them to the block fallback.
func parseGroups(raw string, frags []retrieval.Fragment) ([]Group, error) {
	jsonText, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var resp groupingResponse
	if err := json.Unmarshal([]byte(jsonText), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling groups: %w", err)
	}
	if len(resp.Groups) == 0 {
		return nil, errors.New("response contains no groups")
	}

	seen := make(map[int]bool, len(frags))
	groups := make([]Group, 0, len(resp.Groups))
	for _, rg := range resp.Groups {
		if len(rg.FragmentIndices) == 0 {
			continue
		}
		grp := Group{Name: strings.TrimSpace(rg.Name)}
		if grp.Name == "" {
			grp.Name = fmt.Sprintf("Topic %d", len(groups)+1)
		}
		for _, idx := range rg.FragmentIndices {
			if idx < 1 || idx > len(frags) {
				return nil, fmt.Errorf("fragment index %d out of range 1..%d", idx, len(frags))
			}
			if seen[idx] {
				return nil, fmt.Errorf("fragment index %d assigned twice", idx)
			}
			seen[idx] = true
			grp.Fragments = append(grp.Fragments, frags[idx-1])
		}
		groups = append(groups, grp)
	}

	if len(seen) != len(frags) {
		return nil, fmt.Errorf("response assigned %d of %d fragments", len(seen), len(frags))
	}
	return groups, nil
}

// extractJSONObject pulls a JSON object out of an LLM response that may wrap
// it in markdown code fences or surrounding prose. Small local models do
// this routinely.
func extractJSONObject(resp string) (string, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", errors.New("no JSON object in response")
	}
	return s[start : end+1], nil
}
