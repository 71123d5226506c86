package agent

import (
	"encoding/json"
	"fmt"

	"github.com/zenhq/zen/internal/state"
)

// NewAuditor builds the agent that assesses the plan and findings for risk,
// dependencies, and feasibility.
func NewAuditor(d Deps) *Base {
	return NewBase(d.params(state.AgentAuditor, auditorTemplate, Hooks{
		PrepareInput: func(st *state.SharedState) any {
			return map[string]any{
				"plan":              st.Plan,
				"research_findings": st.ResearchFindings,
			}
		},
		Parse: func(raw json.RawMessage, st *state.SharedState) (any, error) {
			var report state.AuditReport
			if err := json.Unmarshal(raw, &report); err != nil {
				return nil, fmt.Errorf("decoding audit report: %w", err)
			}
			if report.RiskAssessment.OverallRiskLevel == "" {
				return nil, fmt.Errorf("overall_risk_level is missing")
			}
			st.AuditReport = &report
			return &report, nil
		},
		Degrade: func(st *state.SharedState) any {
			report := &state.AuditReport{
				RiskAssessment: state.RiskAssessment{OverallRiskLevel: "unknown"},
			}
			st.AuditReport = report
			return report
		},
	}))
}
