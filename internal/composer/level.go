package composer

import (
	"errors"
	"fmt"
	"strings"
)

// Level selects the depth and structure of generated training material.
// The set is closed; anything else fails ParseLevel.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
	LevelArchitecture Level = "architecture"
)

// ErrInvalidLevel is returned for levels outside the closed set.
var ErrInvalidLevel = errors.New("invalid training level")

// levelConfig drives prompt composition per level. Adding a level means
// adding a row here, nothing else.
type levelConfig struct {
	instruction string
	depth       string
	sections    []string
}

var levels = map[Level]levelConfig{
	LevelBeginner: {
		instruction: "Explain for someone new to the domain. Define terminology on first use, build up from fundamentals, and keep examples minimal.",
		depth:       "basic",
		sections: []string{
			"Introduction", "Fundamentals", "Key Concepts", "Basic Examples",
			"Summary", "References",
		},
	},
	LevelIntermediate: {
		instruction: "Assume working familiarity with the basics. Focus on practical application, common scenarios, and troubleshooting.",
		depth:       "practical",
		sections: []string{
			"Overview", "Core Concepts", "Practical Applications", "Common Scenarios",
			"Troubleshooting", "Best Practices", "References",
		},
	},
	LevelAdvanced: {
		instruction: "Assume deep hands-on experience. Cover internals, edge cases, performance trade-offs, and expert-level configuration.",
		depth:       "expert",
		sections: []string{
			"Advanced Overview", "Deep Dive Concepts", "Advanced Configurations",
			"Performance Optimization", "Edge Cases & Troubleshooting",
			"Best Practices & Patterns", "References",
		},
	},
	LevelArchitecture: {
		instruction: "Address a system architect. Emphasize structure, data flow, integration boundaries, scalability, and design rationale.",
		depth:       "system",
		sections: []string{
			"Architectural Overview", "System Architecture", "Architectural Flow & Diagrams",
			"Design Details", "Integration Points", "Scalability & Performance",
			"Design Patterns", "References",
		},
	},
}

// levelOrder keeps listings stable; map iteration would shuffle them.
var levelOrder = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced, LevelArchitecture}

// ParseLevel validates a level string, case-insensitively. Unknown levels
// fail with ErrInvalidLevel; there is no silent default.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levels[l]; !ok {
		return "", fmt.Errorf("level %q: %w (valid levels: %s)", s, ErrInvalidLevel, strings.Join(LevelNames(), ", "))
	}
	return l, nil
}

// Levels returns all valid levels in teaching order.
func Levels() []Level {
	out := make([]Level, len(levelOrder))
	copy(out, levelOrder)
	return out
}

// LevelNames returns all valid level names in teaching order.
func LevelNames() []string {
	names := make([]string, len(levelOrder))
	for i, l := range levelOrder {
		names[i] = string(l)
	}
	return names
}

// Sections returns the section skeleton for a level.
func Sections(level Level) ([]string, error) {
	cfg, ok := levels[level]
	if !ok {
		return nil, fmt.Errorf("level %q: %w", level, ErrInvalidLevel)
	}
	out := make([]string, len(cfg.sections))
	copy(out, cfg.sections)
	return out, nil
}

// Depth returns the depth tag for a level ("basic", "practical", "expert",
// "system").
func Depth(level Level) (string, error) {
	cfg, ok := levels[level]
	if !ok {
		return "", fmt.Errorf("level %q: %w", level, ErrInvalidLevel)
	}
	return cfg.depth, nil
}
