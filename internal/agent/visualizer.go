package agent

import (
	"encoding/json"
	"fmt"

	"github.com/zenhq/zen/internal/state"
)

// visualizerOutput wraps the list so the model emits a JSON object rather
// than a bare array, which the extractor cannot locate.
type visualizerOutput struct {
	Visualizations []state.Visualization `json:"visualizations"`
}

// NewVisualizer builds the agent that proposes renderable visualizations for
// the final artifact.
func NewVisualizer(d Deps) *Base {
	return NewBase(d.params(state.AgentVisualizer, visualizerTemplate, Hooks{
		PrepareInput: func(st *state.SharedState) any {
			return map[string]any{
				"intent":            st.Intent,
				"plan":              st.Plan,
				"research_findings": st.ResearchFindings,
			}
		},
		Parse: func(raw json.RawMessage, st *state.SharedState) (any, error) {
			var out visualizerOutput
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("decoding visualizations: %w", err)
			}
			seen := map[string]bool{}
			for _, v := range out.Visualizations {
				if v.ID == "" || v.Title == "" {
					return nil, fmt.Errorf("visualization missing id or title")
				}
				if seen[v.ID] {
					return nil, fmt.Errorf("duplicate visualization id %q", v.ID)
				}
				seen[v.ID] = true
			}
			st.Visualizations = out.Visualizations
			return out.Visualizations, nil
		},
		Degrade: func(st *state.SharedState) any {
			st.Visualizations = []state.Visualization{}
			return st.Visualizations
		},
	}))
}
