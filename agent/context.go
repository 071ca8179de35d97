package agent

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/transcriptqa/store"
)

const emptyContextNotice = "No relevant information was found in the knowledge base for these queries."

// formatContext renders merged chunks into the context block handed back to
// the model.
func formatContext(chunks []store.ChunkHit) string {
	if len(chunks) == 0 {
		return emptyContextNotice
	}

	var b strings.Builder
	b.WriteString("Retrieved context:\n\n")
	for i, c := range chunks {
		b.WriteString(fmt.Sprintf("[%d] ", i+1))
		if c.Meta.Speaker != "" {
			b.WriteString(c.Meta.Speaker)
		}
		if c.Meta.Title != "" {
			b.WriteString(" — " + c.Meta.Title)
		}
		if c.Meta.PublishedAt != nil {
			b.WriteString(" (" + c.Meta.PublishedAt.Format("2006-01-02") + ")")
		}
		b.WriteString("\n")
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
