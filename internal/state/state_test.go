package state_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zenhq/zen/internal/state"
)

var _ = Describe("SharedState", func() {
	var s *state.SharedState

	BeforeEach(func() {
		s = state.New("sess-1", "Explain blockchain consensus mechanisms", state.ModeResearch, nil)
	})

	It("starts at deliberation round 1 with empty collections", func() {
		Expect(s.DeliberationRound).To(Equal(1))
		Expect(s.Errors).To(BeEmpty())
		Expect(s.AgentOutputs).To(BeEmpty())
		Expect(s.Evidence).To(BeEmpty())
		Expect(s.Clarifications).NotTo(BeNil())
	})

	It("records timestamped errors in append order", func() {
		s.RecordError(state.AgentPlanner, "model load failed")
		s.RecordError(state.AgentGrounder, "retrieval cancelled")

		Expect(s.Errors).To(HaveLen(2))
		Expect(s.Errors[0].Agent).To(Equal(state.AgentPlanner))
		Expect(s.Errors[0].Timestamp).NotTo(BeZero())
		Expect(s.Errors[1].Agent).To(Equal(state.AgentGrounder))
		Expect(s.Errors[1].Timestamp).To(BeTemporally(">=", s.Errors[0].Timestamp))
	})

	It("filters errors by agent", func() {
		s.RecordError(state.AgentPlanner, "first")
		s.RecordError(state.AgentJudge, "second")
		s.RecordError(state.AgentPlanner, "third")

		planner := s.ErrorsFor(state.AgentPlanner)
		Expect(planner).To(HaveLen(2))
		Expect(planner[0].Message).To(Equal("first"))
		Expect(planner[1].Message).To(Equal("third"))
		Expect(s.ErrorsFor(state.AgentVisualizer)).To(BeEmpty())
	})
})

var _ = Describe("ParseMode", func() {
	It("accepts the three known modes", func() {
		for _, name := range []string{"research", "project", "learn"} {
			mode, err := state.ParseMode(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(mode)).To(Equal(name))
		}
	})

	It("rejects unknown modes", func() {
		_, err := state.ParseMode("debate")
		Expect(err).To(MatchError(ContainSubstring("unknown mode")))
	})
})

var _ = Describe("Plan validation", func() {
	rq := func(id string, deps ...string) state.ResearchQuestion {
		return state.ResearchQuestion{
			ID:           id,
			Question:     "q " + id,
			Type:         "factual",
			Priority:     "high",
			Dependencies: deps,
		}
	}

	It("accepts an acyclic dependency graph", func() {
		plan := &state.Plan{ResearchQuestions: []state.ResearchQuestion{
			rq("rq1"),
			rq("rq2", "rq1"),
			rq("rq3", "rq1", "rq2"),
		}}
		Expect(plan.Validate()).To(Succeed())
	})

	It("rejects an empty plan", func() {
		plan := &state.Plan{}
		Expect(plan.Validate()).To(MatchError(ContainSubstring("no research questions")))
	})

	It("rejects duplicate question ids", func() {
		plan := &state.Plan{ResearchQuestions: []state.ResearchQuestion{rq("rq1"), rq("rq1")}}
		Expect(plan.Validate()).To(MatchError(ContainSubstring("duplicate")))
	})

	It("rejects dependencies on unknown ids", func() {
		plan := &state.Plan{ResearchQuestions: []state.ResearchQuestion{rq("rq1", "rq9")}}
		Expect(plan.Validate()).To(MatchError(ContainSubstring("unknown id")))
	})

	It("rejects dependency cycles", func() {
		plan := &state.Plan{ResearchQuestions: []state.ResearchQuestion{
			rq("rq1", "rq3"),
			rq("rq2", "rq1"),
			rq("rq3", "rq2"),
		}}
		Expect(plan.Validate()).To(MatchError(ContainSubstring("cycle")))
	})

	It("rejects a self-dependency", func() {
		plan := &state.Plan{ResearchQuestions: []state.ResearchQuestion{rq("rq1", "rq1")}}
		Expect(plan.Validate()).To(MatchError(ContainSubstring("cycle")))
	})
})
