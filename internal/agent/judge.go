package agent

import (
	"encoding/json"
	"fmt"

	"github.com/zenhq/zen/internal/state"
)

// NewJudge builds the agent that synthesizes the final artifact and decides
// whether the run needs another deliberation round. The accept threshold and
// round ceiling make the decision deterministic regardless of what the model
// self-reports.
func NewJudge(d Deps, consensusThreshold float64, maxRounds int) *Base {
	return NewBase(d.params(state.AgentJudge, judgeTemplate, Hooks{
		PrepareInput: func(st *state.SharedState) any {
			return map[string]any{
				"user_brief":         st.UserBrief,
				"mode":               st.Mode,
				"intent":             st.Intent,
				"plan":               st.Plan,
				"research_findings":  st.ResearchFindings,
				"audit_report":       st.AuditReport,
				"visualizations":     st.Visualizations,
				"deliberation_round": st.DeliberationRound,
			}
		},
		Parse: func(raw json.RawMessage, st *state.SharedState) (any, error) {
			var verdict state.Verdict
			if err := json.Unmarshal(raw, &verdict); err != nil {
				return nil, fmt.Errorf("decoding verdict: %w", err)
			}

			c := &verdict.Consensus
			for name, score := range map[string]float64{
				"groundedness": c.Groundedness,
				"coherence":    c.Coherence,
				"completeness": c.Completeness,
			} {
				if score < 0 || score > 1 {
					return nil, fmt.Errorf("%s score %g out of range", name, score)
				}
			}
			// Overall is always the mean of the sub-scores, whatever the
			// model reported.
			c.Overall = (c.Groundedness + c.Coherence + c.Completeness) / 3

			if c.Overall < consensusThreshold && st.DeliberationRound < maxRounds {
				verdict.Decision = state.DecisionNeedsRevision
			} else {
				verdict.Decision = state.DecisionAccept
			}

			st.FinalArtifact = &verdict.Artifact
			st.ConsensusScore = &c.Overall
			return &verdict, nil
		},
		Degrade: func(st *state.SharedState) any {
			verdict := &state.Verdict{
				Decision: state.DecisionAccept,
				Artifact: state.FinalArtifact{
					Type:     outputTypeForMode(st.Mode),
					Sections: []state.Section{},
				},
			}
			st.FinalArtifact = &verdict.Artifact
			return verdict
		},
	}))
}
