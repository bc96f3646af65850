package agent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// defaultScore is used when the model's verdict carries no usable score.
const defaultScore = 75

var scorePattern = regexp.MustCompile(`(?i)score["']?\s*:\s*(\d+)`)

// parseEvaluation turns a raw model response into an Evaluation. Models do
// not always honor the JSON-only instruction, so parsing degrades in
// stages: strict JSON (with or without a markdown fence), then a regex
// scan for an embedded score, then the default score with the raw text as
// feedback. The returned score is always within [0,100].
func parseEvaluation(raw string) Evaluation {
	// Score is a pointer to tell "absent" apart from an explicit zero.
	var parsed struct {
		Feedback       string   `json:"feedback"`
		Score          *int     `json:"score"`
		Strengths      []string `json:"strengths"`
		Improvements   []string `json:"improvements"`
		TechnicalNotes string   `json:"technical_notes"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err == nil {
		eval := Evaluation{
			Feedback:       parsed.Feedback,
			Score:          defaultScore,
			Strengths:      parsed.Strengths,
			Improvements:   parsed.Improvements,
			TechnicalNotes: parsed.TechnicalNotes,
		}
		if parsed.Score != nil {
			eval.Score = *parsed.Score
		}
		if eval.Feedback == "" {
			eval.Feedback = strings.TrimSpace(raw)
		}
		eval.Score = clampScore(eval.Score)
		return eval
	}

	score := defaultScore
	if m := scorePattern.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = n
		}
	}
	return Evaluation{
		Feedback: strings.TrimSpace(raw),
		Score:    clampScore(score),
	}
}

// stripFences removes a wrapping markdown code fence and trims the text to
// the outermost JSON object, if one is present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
