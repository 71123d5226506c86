package state

import (
	"fmt"
	"time"
)

// Mode selects the agent sequence for a run.
type Mode string

const (
	ModeResearch Mode = "research"
	ModeProject  Mode = "project"
	ModeLearn    Mode = "learn"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeResearch, ModeProject, ModeLearn:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected research, project or learn)", s)
	}
}

// AgentID identifies one of the six deliberation agents.
type AgentID string

const (
	AgentInterpreter AgentID = "interpreter"
	AgentPlanner     AgentID = "planner"
	AgentGrounder    AgentID = "grounder"
	AgentAuditor     AgentID = "auditor"
	AgentVisualizer  AgentID = "visualizer"
	AgentJudge       AgentID = "judge"
)

// ErrorRecord is an append-only entry in SharedState.Errors.
type ErrorRecord struct {
	Agent     AgentID   `json:"agent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SharedState is the per-run deliberation context. It is created at pipeline
// entry, mutated only by the engine and the currently executing agent, and
// returned (possibly partial) at pipeline exit. Agents run sequentially, so
// no locking is needed.
type SharedState struct {
	SessionID      string            `json:"session_id"`
	UserBrief      string            `json:"user_brief"`
	Mode           Mode              `json:"mode"`
	Clarifications map[string]string `json:"clarifications,omitempty"`

	Intent           *Intent                   `json:"intent,omitempty"`
	Plan             *Plan                     `json:"plan,omitempty"`
	ResearchFindings []ResearchFinding         `json:"research_findings,omitempty"`
	Evidence         map[string][]SourceRecord `json:"evidence,omitempty"`
	AuditReport      *AuditReport              `json:"audit_report,omitempty"`
	Visualizations   []Visualization           `json:"visualizations,omitempty"`
	FinalArtifact    *FinalArtifact            `json:"final_artifact,omitempty"`

	AgentOutputs      map[AgentID]any `json:"agent_outputs,omitempty"`
	Errors            []ErrorRecord   `json:"errors,omitempty"`
	ConsensusScore    *float64        `json:"consensus_score,omitempty"`
	DeliberationRound int             `json:"deliberation_round"`
}

func New(sessionID, userBrief string, mode Mode, clarifications map[string]string) *SharedState {
	if clarifications == nil {
		clarifications = map[string]string{}
	}
	return &SharedState{
		SessionID:         sessionID,
		UserBrief:         userBrief,
		Mode:              mode,
		Clarifications:    clarifications,
		Evidence:          map[string][]SourceRecord{},
		AgentOutputs:      map[AgentID]any{},
		DeliberationRound: 1,
	}
}

// RecordError appends a timestamped error entry for the given agent.
func (s *SharedState) RecordError(agent AgentID, message string) {
	s.Errors = append(s.Errors, ErrorRecord{
		Agent:     agent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// RecordOutput stores an agent's raw structured output. Each agent writes its
// slot once per deliberation round; later rounds overwrite.
func (s *SharedState) RecordOutput(agent AgentID, output any) {
	s.AgentOutputs[agent] = output
}

// ErrorsFor returns the recorded errors originating from the given agent.
func (s *SharedState) ErrorsFor(agent AgentID) []ErrorRecord {
	var out []ErrorRecord
	for _, e := range s.Errors {
		if e.Agent == agent {
			out = append(out, e)
		}
	}
	return out
}

// EvidenceFor returns the evidence list assembled for a research question.
func (s *SharedState) EvidenceFor(questionID string) []SourceRecord {
	return s.Evidence[questionID]
}
