package agent_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zenhq/zen/internal/agent"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return string(raw)
}

var _ = Describe("Interpreter", func() {
	var (
		gen  *fakeGenerator
		slot *passthroughSlot
		st   *state.SharedState
	)

	BeforeEach(func() {
		gen = &fakeGenerator{}
		slot = &passthroughSlot{}
		st = newResearchState()
	})

	It("writes the parsed intent and records the output", func() {
		gen.responses = []string{mustJSON(map[string]any{
			"primary_goal": "explain consensus mechanisms",
			"output_type":  "research_report",
			"scope":        "moderate",
			"confidence":   0.9,
		})}

		agent.NewInterpreter(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Intent).NotTo(BeNil())
		Expect(st.Intent.PrimaryGoal).To(Equal("explain consensus mechanisms"))
		Expect(st.Intent.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		Expect(st.AgentOutputs).To(HaveKey(state.AgentInterpreter))
		Expect(st.Errors).To(BeEmpty())
		Expect(gen.calls()).To(Equal(1))
	})

	It("defaults confidence to 0.7 when the model omits it", func() {
		gen.responses = []string{mustJSON(map[string]any{
			"primary_goal": "goal",
			"output_type":  "research_report",
		})}

		agent.NewInterpreter(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Intent.Confidence).To(BeNumerically("~", 0.7, 1e-9))
	})

	It("retries once on bad JSON and recovers without recording an error", func() {
		gen.responses = []string{
			"I'm sorry, here is my analysis in prose.",
			mustJSON(map[string]any{"primary_goal": "goal", "output_type": "research_report", "confidence": 0.8}),
		}

		agent.NewInterpreter(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(gen.calls()).To(Equal(2))
		Expect(gen.lastPrompt()).To(ContainSubstring("ONLY a valid JSON object"))
		Expect(st.Intent).NotTo(BeNil())
		Expect(st.Intent.PrimaryGoal).To(Equal("goal"))
		Expect(st.Errors).To(BeEmpty())
	})

	It("degrades after exhausting parse retries", func() {
		gen.responses = []string{"not json", "still not json", "never json"}

		agent.NewInterpreter(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(gen.calls()).To(Equal(3)) // 1 + MaxParseRetries
		Expect(st.Intent).NotTo(BeNil())
		Expect(st.Intent.PrimaryGoal).To(Equal(st.UserBrief))
		Expect(st.Intent.OutputType).To(Equal("research_report"))
		Expect(st.Intent.Confidence).To(BeZero())
		Expect(st.ErrorsFor(state.AgentInterpreter)).To(HaveLen(1))
	})

	It("degrades when the slot cannot load the model", func() {
		slot.err = &runtime.ModelLoadFailed{Model: "test-model", Attempts: 3}

		agent.NewInterpreter(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(gen.calls()).To(BeZero())
		Expect(st.Intent).NotTo(BeNil())
		Expect(st.Intent.Confidence).To(BeZero())
		Expect(st.ErrorsFor(state.AgentInterpreter)).To(HaveLen(1))
	})
})

var _ = Describe("Planner", func() {
	var (
		gen  *fakeGenerator
		slot *passthroughSlot
		st   *state.SharedState
	)

	BeforeEach(func() {
		gen = &fakeGenerator{}
		slot = &passthroughSlot{}
		st = newResearchState()
	})

	It("accepts a valid plan", func() {
		gen.responses = []string{mustJSON(map[string]any{
			"research_questions": []map[string]any{
				{"id": "rq1", "question": "What is proof of work?", "type": "factual", "priority": "critical"},
				{"id": "rq2", "question": "How does proof of stake differ?", "type": "comparative", "priority": "high", "dependencies": []string{"rq1"}},
			},
			"phases": []map[string]any{{"name": "foundations", "rq_ids": []string{"rq1", "rq2"}}},
		})}

		agent.NewPlanner(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Plan).NotTo(BeNil())
		Expect(st.Plan.ResearchQuestions).To(HaveLen(2))
		Expect(st.Errors).To(BeEmpty())
	})

	It("rejects a cyclic plan and degrades to a single question", func() {
		cyclic := mustJSON(map[string]any{
			"research_questions": []map[string]any{
				{"id": "rq1", "question": "a", "type": "factual", "priority": "high", "dependencies": []string{"rq2"}},
				{"id": "rq2", "question": "b", "type": "factual", "priority": "high", "dependencies": []string{"rq1"}},
			},
		})
		gen.responses = []string{cyclic, cyclic, cyclic}

		agent.NewPlanner(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Plan).NotTo(BeNil())
		Expect(st.Plan.ResearchQuestions).To(HaveLen(1))
		Expect(st.Plan.ResearchQuestions[0].Question).To(Equal(st.UserBrief))
		Expect(st.ErrorsFor(state.AgentPlanner)).NotTo(BeEmpty())
	})
})

var _ = Describe("Auditor", func() {
	It("requires an overall risk level", func() {
		gen := &fakeGenerator{responses: []string{mustJSON(map[string]any{
			"risk_assessment": map[string]any{},
		})}}
		slot := &passthroughSlot{}
		st := newResearchState()

		agent.NewAuditor(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.AuditReport).NotTo(BeNil())
		Expect(st.AuditReport.RiskAssessment.OverallRiskLevel).To(Equal("unknown"))
		Expect(st.ErrorsFor(state.AgentAuditor)).NotTo(BeEmpty())
	})

	It("accepts a complete report", func() {
		gen := &fakeGenerator{responses: []string{mustJSON(map[string]any{
			"risk_assessment": map[string]any{
				"overall_risk_level": "medium",
				"risks": []map[string]any{
					{"category": "sources", "description": "few primary sources", "severity": "medium"},
				},
			},
			"feasibility_assessment": map[string]any{"technical": 0.8, "resource": 0.9, "time": 0.7, "overall": 0.8},
		})}}
		slot := &passthroughSlot{}
		st := newResearchState()

		agent.NewAuditor(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.AuditReport.RiskAssessment.OverallRiskLevel).To(Equal("medium"))
		Expect(st.Errors).To(BeEmpty())
	})
})

var _ = Describe("Visualizer", func() {
	It("writes the proposed visualizations", func() {
		gen := &fakeGenerator{responses: []string{mustJSON(map[string]any{
			"visualizations": []map[string]any{
				{"id": "viz1", "type": "flowchart", "title": "Consensus flow", "specification": map[string]any{"nodes": []string{"propose", "vote"}}},
			},
		})}}
		slot := &passthroughSlot{}
		st := newResearchState()

		agent.NewVisualizer(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Visualizations).To(HaveLen(1))
		Expect(st.Visualizations[0].ID).To(Equal("viz1"))
		Expect(st.Errors).To(BeEmpty())
	})

	It("degrades to an empty list", func() {
		gen := &fakeGenerator{responses: []string{"no json here"}}
		slot := &passthroughSlot{}
		st := newResearchState()

		agent.NewVisualizer(testDeps(gen, slot)).Think(context.Background(), st)

		Expect(st.Visualizations).NotTo(BeNil())
		Expect(st.Visualizations).To(BeEmpty())
		Expect(st.ErrorsFor(state.AgentVisualizer)).NotTo(BeEmpty())
	})
})

var _ = Describe("Judge", func() {
	var (
		gen  *fakeGenerator
		slot *passthroughSlot
		st   *state.SharedState
	)

	verdictJSON := func(g, c, comp float64, sections int) string {
		secs := make([]map[string]any, 0, sections)
		for i := 0; i < sections; i++ {
			secs = append(secs, map[string]any{"title": "s", "content": "c", "confidence": 0.9})
		}
		return mustJSON(map[string]any{
			"decision": "accept",
			"consensus_score": map[string]any{
				"groundedness": g, "coherence": c, "completeness": comp, "overall": 0.1,
			},
			"artifact": map[string]any{"type": "research_report", "sections": secs},
		})
	}

	BeforeEach(func() {
		gen = &fakeGenerator{}
		slot = &passthroughSlot{}
		st = newResearchState()
	})

	It("recomputes overall as the mean of the sub-scores", func() {
		gen.responses = []string{verdictJSON(0.9, 0.9, 0.84, 4)}

		agent.NewJudge(testDeps(gen, slot), 0.85, 7).Think(context.Background(), st)

		Expect(st.ConsensusScore).NotTo(BeNil())
		Expect(*st.ConsensusScore).To(BeNumerically("~", (0.9+0.9+0.84)/3, 1e-9))
		Expect(st.FinalArtifact).NotTo(BeNil())
		Expect(st.FinalArtifact.Sections).To(HaveLen(4))
	})

	It("decides needs_revision below the threshold when rounds remain", func() {
		gen.responses = []string{verdictJSON(0.7, 0.7, 0.7, 2)}

		agent.NewJudge(testDeps(gen, slot), 0.85, 7).Think(context.Background(), st)

		verdict := st.AgentOutputs[state.AgentJudge].(*state.Verdict)
		Expect(verdict.Decision).To(Equal(state.DecisionNeedsRevision))
	})

	It("accepts below the threshold on the final round", func() {
		st.DeliberationRound = 7
		gen.responses = []string{verdictJSON(0.7, 0.7, 0.7, 2)}

		agent.NewJudge(testDeps(gen, slot), 0.85, 7).Think(context.Background(), st)

		verdict := st.AgentOutputs[state.AgentJudge].(*state.Verdict)
		Expect(verdict.Decision).To(Equal(state.DecisionAccept))
	})

	It("rejects out-of-range sub-scores and degrades to accept", func() {
		bad := mustJSON(map[string]any{
			"decision":        "accept",
			"consensus_score": map[string]any{"groundedness": 1.4, "coherence": 0.9, "completeness": 0.9},
			"artifact":        map[string]any{"type": "research_report", "sections": []any{}},
		})
		gen.responses = []string{bad, bad, bad}

		agent.NewJudge(testDeps(gen, slot), 0.85, 7).Think(context.Background(), st)

		verdict := st.AgentOutputs[state.AgentJudge].(*state.Verdict)
		Expect(verdict.Decision).To(Equal(state.DecisionAccept))
		Expect(verdict.Artifact.Sections).To(BeEmpty())
		Expect(st.ConsensusScore).To(BeNil())
		Expect(st.ErrorsFor(state.AgentJudge)).NotTo(BeEmpty())
	})
})
