// Package document renders generated coaching content to markdown
// artifacts on disk.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artifact is one generated document ready to be written out.
type Artifact struct {
	Title   string
	Domain  string
	Level   string
	Content string
}

// Writer saves artifacts under a single directory, one markdown file each.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter returns a Writer that saves under <dataDir>/artifacts.
func NewWriter(dataDir string) *Writer {
	return &Writer{
		dir: filepath.Join(dataDir, "artifacts"),
		now: time.Now,
	}
}

// Save renders the artifact and writes it to a fresh uuid-suffixed file,
// returning the full path.
func (w *Writer) Save(a Artifact) (string, error) {
	if strings.TrimSpace(a.Content) == "" {
		return "", fmt.Errorf("artifact %q has no content", a.Title)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	name := safeFileName(a.Title)
	if a.Level != "" {
		name += "_" + a.Level
	}
	name += "_" + uuid.New().String()[:8] + ".md"

	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(w.render(a)), 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) render(a Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Title)
	fmt.Fprintf(&b, "- Domain: %s\n", strings.ToUpper(a.Domain))
	if a.Level != "" {
		fmt.Fprintf(&b, "- Level: %s\n", strings.ToUpper(a.Level))
	}
	fmt.Fprintf(&b, "- Generated: %s\n", w.now().Format("January 02, 2006"))
	fmt.Fprintf(&b, "- Words: %d\n", len(strings.Fields(a.Content)))
	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(a.Content))
	b.WriteString("\n")
	return b.String()
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	dashRuns    = regexp.MustCompile(`[-\s]+`)
)

// safeFileName reduces a title to a filesystem-friendly slug.
func safeFileName(title string) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = strings.TrimSpace(s)
	s = dashRuns.ReplaceAllString(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}
