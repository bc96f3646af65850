package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	// ChunkSize is the target chunk length in bytes.
	ChunkSize = 1500
	// ChunkOverlap is how much of a chunk's tail is repeated at the head
	// of the next one, so a sentence cut at a boundary stays retrievable.
	ChunkOverlap = 200
)

// SplitText cuts text into overlapping chunks of roughly ChunkSize bytes,
// preferring word boundaries over hard cuts. Whitespace-only input yields
// no chunks.
func SplitText(text string) []string {
	return splitText(text, ChunkSize, ChunkOverlap)
}

func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			if chunk := strings.TrimSpace(text[start:]); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Prefer cutting at the last whitespace inside the window.
		cut := strings.LastIndexAny(text[start:end], " \t\n")
		if cut <= 0 {
			// One unbroken run; hard-cut at a rune boundary.
			cut = size
			for cut > 0 && !utf8.RuneStart(text[start+cut]) {
				cut--
			}
		}
		chunkEnd := start + cut
		if chunk := strings.TrimSpace(text[start:chunkEnd]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := chunkEnd - overlap
		if next <= start {
			next = chunkEnd
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		// Align the overlap start with the next word.
		if i := strings.IndexAny(text[next:chunkEnd], " \t\n"); i >= 0 {
			next += i + 1
		}
		start = next
	}
	return chunks
}
