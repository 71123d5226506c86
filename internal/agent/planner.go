package agent

import (
	"encoding/json"
	"fmt"

	"github.com/zenhq/zen/internal/state"
)

// NewPlanner builds the agent that decomposes the intent into a research
// plan. Plans whose dependency graph is not a DAG over the declared question
// ids are rejected at parse time.
func NewPlanner(d Deps) *Base {
	return NewBase(d.params(state.AgentPlanner, plannerTemplate, Hooks{
		PrepareInput: func(st *state.SharedState) any {
			return map[string]any{
				"user_brief":     st.UserBrief,
				"intent":         st.Intent,
				"clarifications": st.Clarifications,
			}
		},
		Parse: func(raw json.RawMessage, st *state.SharedState) (any, error) {
			var plan state.Plan
			if err := json.Unmarshal(raw, &plan); err != nil {
				return nil, fmt.Errorf("decoding plan: %w", err)
			}
			if err := plan.Validate(); err != nil {
				return nil, err
			}
			st.Plan = &plan
			return &plan, nil
		},
		Degrade: func(st *state.SharedState) any {
			plan := &state.Plan{
				ResearchQuestions: []state.ResearchQuestion{{
					ID:       "rq1",
					Question: st.UserBrief,
					Type:     "exploratory",
					Priority: "critical",
				}},
			}
			st.Plan = plan
			return plan
		},
	}))
}
