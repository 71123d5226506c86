package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

// EvidenceRetriever assembles per-question evidence. It never fails: a
// question with no retrievable sources maps to an empty list, and sub-query
// failures come back as per-question warnings.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, questions []state.ResearchQuestion, maxPerQuestion int) (map[string][]state.SourceRecord, map[string][]string)
}

// Grounder retrieves evidence for every research question, then generates
// one grounded answer per question under a single slot acquisition. It is
// the only agent that makes more than one model call per cycle.
type Grounder struct {
	base       *Base
	retriever  EvidenceRetriever
	maxSources int
}

func NewGrounder(d Deps, retriever EvidenceRetriever, maxSourcesPerQuestion int) *Grounder {
	base := NewBase(d.params(state.AgentGrounder, grounderTemplate, Hooks{}))
	return &Grounder{
		base:       base,
		retriever:  retriever,
		maxSources: maxSourcesPerQuestion,
	}
}

func (g *Grounder) ID() state.AgentID {
	return state.AgentGrounder
}

func (g *Grounder) Descriptor() runtime.ModelDescriptor {
	return g.base.Descriptor()
}

func (g *Grounder) Think(ctx context.Context, st *state.SharedState) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Agent: logger.Ptr(string(state.AgentGrounder))})

	if st.Plan == nil || len(st.Plan.ResearchQuestions) == 0 {
		st.RecordError(state.AgentGrounder, "no plan to ground")
		st.RecordOutput(state.AgentGrounder, g.degradeAll(st))
		return
	}
	questions := st.Plan.ResearchQuestions

	slog.InfoContext(ctx, "grounder starting",
		"questions", len(questions), "model", g.base.desc.ModelID)

	evidence, warnings := g.retriever.Retrieve(ctx, questions, g.maxSources)
	for id, sources := range evidence {
		st.Evidence[id] = sources
	}
	for id, msgs := range warnings {
		for _, msg := range msgs {
			st.RecordError(state.AgentGrounder,
				fmt.Sprintf("retrieval warning for %s: %s", id, msg))
		}
	}

	// Revision rounds answer the same questions again with the Judge's
	// notes in view.
	revisionNotes := priorRevisionNotes(st)

	// Findings are rebuilt from scratch each round so the Judge always sees
	// one finding per question.
	st.ResearchFindings = nil

	err := g.base.slot.WithModel(ctx, g.base.desc, func(ctx context.Context) error {
		for _, rq := range questions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := g.answerQuestion(ctx, st, rq, revisionNotes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		st.RecordError(state.AgentGrounder, err.Error())
		slog.ErrorContext(ctx, "grounder interrupted", "error", err,
			"findings", len(st.ResearchFindings))
		if len(st.ResearchFindings) == 0 && !isCancellation(err) {
			st.RecordOutput(state.AgentGrounder, g.degradeAll(st))
			return
		}
	}

	st.RecordOutput(state.AgentGrounder, st.ResearchFindings)
	slog.InfoContext(ctx, "grounder finished", "findings", len(st.ResearchFindings))
}

// answerQuestion runs one grounded generation. A parse rejection degrades
// just that question; transport failures and cancellation abort the pass.
func (g *Grounder) answerQuestion(ctx context.Context, st *state.SharedState, rq state.ResearchQuestion, revisionNotes []string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{QuestionID: logger.Ptr(rq.ID)})
	sources := st.Evidence[rq.ID]

	input := map[string]any{
		"question_id": rq.ID,
		"question":    rq.Question,
		"type":        rq.Type,
	}
	if len(revisionNotes) > 0 {
		input["revision_notes"] = revisionNotes
	}

	prompt, err := AssemblePrompt(g.base.template, input, FormatEvidence(sources))
	if err != nil {
		return err
	}

	var finding state.ResearchFinding
	_, err = g.base.GenerateObject(ctx, prompt, func(raw json.RawMessage) error {
		finding = state.ResearchFinding{}
		if err := json.Unmarshal(raw, &finding); err != nil {
			return fmt.Errorf("decoding finding: %w", err)
		}
		finding.QuestionID = rq.ID
		return validateCitations(finding, sources)
	})
	if err != nil {
		if errors.Is(err, errParseRejected) {
			st.RecordError(state.AgentGrounder,
				fmt.Sprintf("question %s: %v", rq.ID, err))
			st.ResearchFindings = append(st.ResearchFindings, degradedFinding(rq))
			return nil
		}
		return err
	}

	st.ResearchFindings = append(st.ResearchFindings, finding)
	return nil
}

// validateCitations rejects findings citing sources outside the question's
// evidence list. Models cite by 1-based [Source N] position; citation ids
// assigned during retrieval are also accepted.
func validateCitations(finding state.ResearchFinding, sources []state.SourceRecord) error {
	known := make(map[string]bool, len(sources))
	for i, src := range sources {
		known[strconv.Itoa(i+1)] = true
		if src.CitationID != "" {
			known[src.CitationID] = true
		}
	}
	for _, kf := range finding.KeyFindings {
		for _, ev := range kf.Evidence {
			if !known[ev.SourceID] {
				return fmt.Errorf("cited source %q not in evidence for question %s",
					ev.SourceID, finding.QuestionID)
			}
		}
	}
	return nil
}

func degradedFinding(rq state.ResearchQuestion) state.ResearchFinding {
	return state.ResearchFinding{
		QuestionID:        rq.ID,
		Answer:            "",
		OverallConfidence: 0,
	}
}

func (g *Grounder) degradeAll(st *state.SharedState) []state.ResearchFinding {
	var findings []state.ResearchFinding
	if st.Plan != nil {
		for _, rq := range st.Plan.ResearchQuestions {
			findings = append(findings, degradedFinding(rq))
		}
	}
	st.ResearchFindings = findings
	return findings
}

// priorRevisionNotes returns the Judge's notes from the previous round, if
// this is a revision pass.
func priorRevisionNotes(st *state.SharedState) []string {
	if st.DeliberationRound <= 1 {
		return nil
	}
	verdict, ok := st.AgentOutputs[state.AgentJudge].(*state.Verdict)
	if !ok {
		return nil
	}
	return verdict.RevisionNotes
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
