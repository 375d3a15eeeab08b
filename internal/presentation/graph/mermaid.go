package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/promptgraph/pkg/graph"
)

// GraphOverlay contains session data to visualize on the graph.
type GraphOverlay struct {
	VisitedStates []string
	CurrentState  string
}

// GenerateMermaid produces a Mermaid flowchart of the states of g and the commands between them.
// It applies semantic styling:
// - Entry state: ((Circle))
// - Default: [Rectangle]
// Paths that answer prompts on the way are dotted.
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(g *graph.Graph, entry string, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, s := range g.States() {
		safeID := sanitizeMermaidID(s.Name)
		opener, closer := "[", "]"
		if s.Name == entry {
			opener, closer = "((", "))"
		}
		prompt := ""
		if s.Prompt != nil {
			prompt = " <br/> " + escapeLabel(s.Prompt.String())
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s%s\"%s\n", safeID, opener, s.Name, prompt, closer))
	}

	for _, p := range g.Paths() {
		cmd := escapeLabel(p.Command)
		arrow := fmt.Sprintf("-- \"%s\" -->", cmd)
		if p.Dialog.Len() > 0 {
			arrow = fmt.Sprintf("-. \"%s\" .->", cmd)
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(p.From.Name), arrow, sanitizeMermaidID(p.To.Name)))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, name := range overlay.VisitedStates {
			safeID := sanitizeMermaidID(name)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentState != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentState)))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.ReplaceAll(s, "\\", "&#92;")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
