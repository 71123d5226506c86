package agent_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zenhq/zen/internal/agent"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

type fakeRetriever struct {
	mu        sync.Mutex
	evidence  map[string][]state.SourceRecord
	callCount int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, questions []state.ResearchQuestion, maxPerQuestion int) (map[string][]state.SourceRecord, map[string][]string) {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()

	out := map[string][]state.SourceRecord{}
	for _, rq := range questions {
		out[rq.ID] = f.evidence[rq.ID]
	}
	return out, nil
}

var _ = Describe("Grounder", func() {
	var (
		gen       *fakeGenerator
		slot      *passthroughSlot
		retriever *fakeRetriever
		st        *state.SharedState
	)

	twoQuestionPlan := func() *state.Plan {
		return &state.Plan{ResearchQuestions: []state.ResearchQuestion{
			{ID: "rq1", Question: "What is proof of work?", Type: "factual", Priority: "critical"},
			{ID: "rq2", Question: "What is proof of stake?", Type: "factual", Priority: "high"},
		}}
	}

	findingJSON := func(sourceID string) string {
		return mustJSON(map[string]any{
			"question_id": "ignored",
			"answer":      "a grounded answer",
			"key_findings": []map[string]any{{
				"finding":    "core result",
				"evidence":   []map[string]any{{"source_id": sourceID, "reliability": "high"}},
				"confidence": 0.9,
			}},
			"overall_confidence": 0.85,
		})
	}

	BeforeEach(func() {
		gen = &fakeGenerator{}
		slot = &passthroughSlot{}
		retriever = &fakeRetriever{evidence: map[string][]state.SourceRecord{
			"rq1": {{Origin: "web", Title: "PoW explained", URL: "https://x/pow", Content: "text", CitationID: "cite1", RelevanceScore: 0.8}},
			"rq2": {{Origin: "vector", Title: "PoS notes", Content: "text", RelevanceScore: 0.9}},
		}}
		st = newResearchState()
		st.Plan = twoQuestionPlan()
	})

	newGrounder := func() *agent.Grounder {
		return agent.NewGrounder(testDeps(gen, slot), retriever, 10)
	}

	It("retrieves evidence, then answers each question under one slot acquisition", func() {
		gen.responses = []string{findingJSON("1"), findingJSON("1")}

		newGrounder().Think(context.Background(), st)

		Expect(retriever.callCount).To(Equal(1))
		Expect(slot.acquisitions()).To(Equal([]string{"test-model"}))
		Expect(st.Evidence).To(HaveKey("rq1"))
		Expect(st.Evidence).To(HaveKey("rq2"))
		Expect(st.ResearchFindings).To(HaveLen(2))
		Expect(st.ResearchFindings[0].QuestionID).To(Equal("rq1"))
		Expect(st.ResearchFindings[1].QuestionID).To(Equal("rq2"))
		Expect(st.Errors).To(BeEmpty())
	})

	It("accepts citations by citation id as well as by position", func() {
		gen.responses = []string{findingJSON("cite1"), findingJSON("1")}

		newGrounder().Think(context.Background(), st)

		Expect(st.ResearchFindings).To(HaveLen(2))
		Expect(st.Errors).To(BeEmpty())
	})

	It("rejects citations outside the question's evidence and degrades that question only", func() {
		bad := findingJSON("99")
		gen.generateFn = func(ctx context.Context, req runtime.GenerateRequest) (string, error) {
			if indexOf(req.Prompt, "proof of work") >= 0 {
				return bad, nil
			}
			return findingJSON("1"), nil
		}

		newGrounder().Think(context.Background(), st)

		Expect(st.ResearchFindings).To(HaveLen(2))
		Expect(st.ResearchFindings[0].OverallConfidence).To(BeZero())
		Expect(st.ResearchFindings[0].Answer).To(BeEmpty())
		Expect(st.ResearchFindings[1].Answer).To(Equal("a grounded answer"))
		Expect(st.ErrorsFor(state.AgentGrounder)).To(HaveLen(1))
	})

	It("keeps partial findings on cancellation and does not pad the rest", func() {
		ctx, cancel := context.WithCancel(context.Background())
		gen.generateFn = func(genCtx context.Context, req runtime.GenerateRequest) (string, error) {
			cancel() // cancel after the first question's generation
			return findingJSON("1"), nil
		}

		newGrounder().Think(ctx, st)

		Expect(st.ResearchFindings).To(HaveLen(1))
		Expect(st.ResearchFindings[0].QuestionID).To(Equal("rq1"))
		Expect(st.ErrorsFor(state.AgentGrounder)).To(HaveLen(1))
		Expect(st.AgentOutputs).To(HaveKey(state.AgentGrounder))
	})

	It("degrades all questions when the model cannot be loaded", func() {
		slot.err = &runtime.ModelLoadFailed{Model: "test-model", Attempts: 3, Last: errors.New("unavailable")}

		newGrounder().Think(context.Background(), st)

		Expect(st.ResearchFindings).To(HaveLen(2))
		for _, f := range st.ResearchFindings {
			Expect(f.OverallConfidence).To(BeZero())
			Expect(f.KeyFindings).To(BeEmpty())
		}
		Expect(st.ErrorsFor(state.AgentGrounder)).NotTo(BeEmpty())
	})

	It("degrades when there is no plan", func() {
		st.Plan = nil

		newGrounder().Think(context.Background(), st)

		Expect(st.ResearchFindings).To(BeEmpty())
		Expect(st.ErrorsFor(state.AgentGrounder)).To(HaveLen(1))
		Expect(st.AgentOutputs).To(HaveKey(state.AgentGrounder))
	})

	It("rebuilds findings on a revision round and forwards the judge's notes", func() {
		st.DeliberationRound = 2
		st.ResearchFindings = []state.ResearchFinding{{QuestionID: "stale"}}
		st.AgentOutputs[state.AgentJudge] = &state.Verdict{
			Decision:      state.DecisionNeedsRevision,
			RevisionNotes: []string{"cover finality guarantees"},
		}
		gen.responses = []string{findingJSON("1"), findingJSON("1")}

		newGrounder().Think(context.Background(), st)

		Expect(st.ResearchFindings).To(HaveLen(2))
		Expect(st.ResearchFindings[0].QuestionID).To(Equal("rq1"))
		Expect(gen.prompts[0]).To(ContainSubstring("cover finality guarantees"))
	})
})
