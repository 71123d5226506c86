package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zenhq/zen/internal/citation"
	"github.com/zenhq/zen/internal/state"
)

// AssemblePrompt builds the deterministic prompt for one generation:
// the agent's template, an optional retrieved-evidence section, and the
// structured input as fenced JSON. No randomness, no environment lookup.
func AssemblePrompt(template string, input any, evidence string) (string, error) {
	encoded, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding prompt input: %w", err)
	}

	var b strings.Builder
	b.WriteString(template)
	if evidence != "" {
		b.WriteString("\n\n## Retrieved Evidence\n\n")
		b.WriteString(evidence)
	}
	b.WriteString("\n\n## Input\n\n```json\n")
	b.Write(encoded)
	b.WriteString("\n```")
	return b.String(), nil
}

// FormatEvidence renders a question's source list as numbered blocks. The
// [Source N] labels are 1-based and match the citation instructions given to
// the model.
func FormatEvidence(sources []state.SourceRecord) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(citation.InlineMarker(i + 1))
		b.WriteString(" ")
		b.WriteString(src.Title)
		if src.URL != "" {
			b.WriteString("\nURL: ")
			b.WriteString(src.URL)
		}
		content := src.Content
		if content == "" {
			content = src.Snippet
		}
		if content != "" {
			b.WriteString("\n")
			b.WriteString(content)
		}
	}
	return b.String()
}
