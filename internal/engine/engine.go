// Package engine sequences the deliberation agents per mode, applies quality
// gates between them, and drives the revision loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/core/config"
	"github.com/zenhq/zen/internal/agent"
	"github.com/zenhq/zen/internal/state"

	"github.com/google/uuid"
)

var sequences = map[state.Mode][]state.AgentID{
	state.ModeResearch: {state.AgentInterpreter, state.AgentPlanner, state.AgentGrounder, state.AgentAuditor, state.AgentJudge},
	state.ModeProject:  {state.AgentInterpreter, state.AgentPlanner, state.AgentAuditor, state.AgentVisualizer, state.AgentJudge},
	state.ModeLearn:    {state.AgentInterpreter, state.AgentPlanner, state.AgentGrounder, state.AgentJudge},
}

// Revision rounds rerun the evidence-bearing tail of the pipeline. Project
// mode has no grounder, so its rounds restart at the auditor.
var revisionSequences = map[state.Mode][]state.AgentID{
	state.ModeResearch: {state.AgentGrounder, state.AgentAuditor, state.AgentJudge},
	state.ModeProject:  {state.AgentAuditor, state.AgentVisualizer, state.AgentJudge},
	state.ModeLearn:    {state.AgentGrounder, state.AgentJudge},
}

// Releaser is the shutdown surface of the model slot.
type Releaser interface {
	Release()
}

type Engine struct {
	agents map[state.AgentID]agent.Agent
	slot   Releaser
	cfg    config.EngineConfig
}

func New(cfg config.EngineConfig, slot Releaser) *Engine {
	return &Engine{
		agents: map[state.AgentID]agent.Agent{},
		slot:   slot,
		cfg:    cfg,
	}
}

// Register adds an agent. Later registrations for the same id replace
// earlier ones.
func (e *Engine) Register(a agent.Agent) {
	e.agents[a.ID()] = a
}

// Close releases the model slot. Call on shutdown.
func (e *Engine) Close() {
	if e.slot != nil {
		e.slot.Release()
	}
}

// Run executes the mode's agent sequence over a fresh SharedState and
// returns it, partial if cancelled. The returned error is non-nil only for
// configuration-level failures (unknown mode, unregistered agent) or caller
// cancellation; agent failures are recorded in the state instead.
func (e *Engine) Run(ctx context.Context, userBrief string, mode state.Mode, clarifications map[string]string, sessionID string) (*state.SharedState, error) {
	seq, ok := sequences[mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	for _, id := range seq {
		if _, ok := e.agents[id]; !ok {
			return nil, fmt.Errorf("agent %s not registered for mode %s", id, mode)
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	st := state.New(sessionID, userBrief, mode, clarifications)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID),
		Component: "zen.engine",
	})
	sc := logger.StartSpan(ctx, "pipeline.run")
	defer sc.End()
	ctx = sc.Context()
	slog.InfoContext(ctx, "pipeline starting", "mode", mode, "agents", len(seq))

	e.runSequence(ctx, st, seq)

	for e.needsRevision(st) {
		if ctx.Err() != nil {
			break
		}
		st.DeliberationRound++
		slog.InfoContext(ctx, "revision round starting", "round", st.DeliberationRound)
		e.runSequence(ctx, st, revisionSequences[mode])
	}

	score := 0.0
	if st.ConsensusScore != nil {
		score = *st.ConsensusScore
	}
	slog.InfoContext(ctx, "pipeline finished",
		"rounds", st.DeliberationRound,
		"consensus", score,
		"errors", len(st.Errors))

	return st, ctx.Err()
}

func (e *Engine) runSequence(ctx context.Context, st *state.SharedState, seq []state.AgentID) {
	for _, id := range seq {
		if err := ctx.Err(); err != nil {
			st.RecordError(id, fmt.Sprintf("not executed: %v", err))
			slog.WarnContext(ctx, "pipeline interrupted", "agent", id, "error", err)
			return
		}

		stepCtx := logger.WithLogFields(ctx, logger.LogFields{Round: logger.Ptr(st.DeliberationRound)})
		stepCtx, cancel := context.WithTimeout(stepCtx, e.cfg.AgentTimeBudget)
		sc := logger.StartSpan(stepCtx, "agent."+string(id))
		e.agents[id].Think(sc.Context(), st)

		if err := e.gate(id, st); err != nil {
			sc.RecordError(err)
			st.RecordError(id, fmt.Sprintf("quality gate rejected: %v", err))
			slog.WarnContext(ctx, "quality gate rejected", "agent", id, "reason", err)
		}
		sc.End()
		cancel()
	}
}

func (e *Engine) needsRevision(st *state.SharedState) bool {
	if st.DeliberationRound >= e.cfg.MaxDeliberationRounds {
		return false
	}
	verdict, ok := st.AgentOutputs[state.AgentJudge].(*state.Verdict)
	return ok && verdict.Decision == state.DecisionNeedsRevision
}

// gate evaluates the per-agent quality predicate. A rejection is recorded
// but never halts the pipeline; downstream agents work with the degraded
// output.
func (e *Engine) gate(id state.AgentID, st *state.SharedState) error {
	switch id {
	case state.AgentInterpreter:
		if st.Intent == nil || st.Intent.PrimaryGoal == "" {
			return fmt.Errorf("intent has no primary goal")
		}
		if st.Intent.OutputType == "" {
			return fmt.Errorf("intent has no output type")
		}
	case state.AgentPlanner:
		if st.Plan == nil || len(st.Plan.ResearchQuestions) == 0 {
			return fmt.Errorf("plan has no research questions")
		}
		if err := st.Plan.Validate(); err != nil {
			return err
		}
	case state.AgentGrounder:
		if len(st.ResearchFindings) == 0 {
			return fmt.Errorf("no research findings")
		}
		if st.Plan != nil {
			ids := make(map[string]bool, len(st.Plan.ResearchQuestions))
			for _, rq := range st.Plan.ResearchQuestions {
				ids[rq.ID] = true
			}
			for qid := range st.Evidence {
				if !ids[qid] {
					return fmt.Errorf("evidence for %s references a question outside the plan", qid)
				}
			}
		}
		for _, f := range st.ResearchFindings {
			if f.Answer != "" && !cites(f) && len(st.ErrorsFor(state.AgentGrounder)) == 0 {
				return fmt.Errorf("finding %s has an answer but no cited sources", f.QuestionID)
			}
		}
	case state.AgentAuditor:
		if st.AuditReport == nil || st.AuditReport.RiskAssessment.OverallRiskLevel == "" {
			return fmt.Errorf("audit report missing overall risk level")
		}
	case state.AgentJudge:
		if st.FinalArtifact == nil || len(st.FinalArtifact.Sections) == 0 {
			return fmt.Errorf("final artifact has no sections")
		}
		if st.ConsensusScore == nil || *st.ConsensusScore < 0 || *st.ConsensusScore > 1 {
			return fmt.Errorf("consensus score missing or out of range")
		}
	}
	return nil
}

func cites(f state.ResearchFinding) bool {
	for _, kf := range f.KeyFindings {
		if len(kf.Evidence) > 0 {
			return true
		}
	}
	return false
}
