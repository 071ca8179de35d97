// Package ingest turns raw documents and transcripts into stored chunks with
// embeddings. Chunking is token based and never crosses turn boundaries.
package ingest

import "strings"

// Clean normalises transcript text: newlines become spaces, backslashes are
// dropped, runs of whitespace collapse to a single space.
func Clean(text string) string {
	if text == "" {
		return text
	}
	cleaned := strings.ReplaceAll(text, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, `\`, "")
	return strings.Join(strings.Fields(cleaned), " ")
}
