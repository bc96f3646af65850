package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/coach/internal/grouping"
)

// Prompt is a composed generation request: a system instruction plus a user
// payload carrying the grouped source material.
type Prompt struct {
	System string
	User   string
}

// Compose builds the lesson generation prompt for a level from grouped
// source material. The level is validated before any material is assembled,
// so an invalid level costs nothing. Empty groups still compose; the model
// is told to work from general domain knowledge instead.
func Compose(level Level, domain string, groups []grouping.Group) (Prompt, error) {
	cfg, ok := levels[level]
	if !ok {
		return Prompt{}, fmt.Errorf("level %q: %w", level, ErrInvalidLevel)
	}

	return Prompt{
		System: buildSystem(level, domain, cfg),
		User:   buildUser(level, domain, groups),
	}, nil
}

func buildSystem(level Level, domain string, cfg levelConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s trainer writing %s-depth training material at the %s level.\n", domain, cfg.depth, level)
	b.WriteString(cfg.instruction)
	b.WriteString("\n\nStructure the lesson in markdown with exactly these '## ' sections, in order:\n")
	for _, s := range cfg.sections {
		fmt.Fprintf(&b, "## %s\n", s)
	}
	b.WriteString("\nSynthesize the source material into natural prose under each header. ")
	b.WriteString("Never reference the material's internal organization: the literal labels \"Group N\", \"Chunk N\" and \"Fragment N\" must not appear anywhere in the output.")
	return b.String()
}

func buildUser(level Level, domain string, groups []grouping.Group) string {
	var b strings.Builder

	if len(groups) == 0 {
		fmt.Fprintf(&b, "No source material was retrieved for %s. ", domain)
		b.WriteString("Write the lesson from general knowledge of the domain, following the required section structure.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Source material for %s, organized into %d subtopics:\n", domain, len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "\n### %s\n", g.Name)
		for _, f := range g.Fragments {
			fmt.Fprintf(&b, "- (%s, %s) %s\n", f.Kind, f.Source, f.Text)
		}
	}

	fmt.Fprintf(&b, "\nWrite the complete %s-level training module now, covering every subtopic above within the required section structure.\n", level)
	return b.String()
}
