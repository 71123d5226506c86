package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

// Deps carries the shared collaborators every agent needs.
type Deps struct {
	Generator       Generator
	Slot            Slot
	Descriptor      runtime.ModelDescriptor
	MaxParseRetries int
	GenerateTimeout time.Duration
}

func (d Deps) params(id state.AgentID, template string, hooks Hooks) Params {
	return Params{
		ID:              id,
		Descriptor:      d.Descriptor,
		Template:        template,
		Generator:       d.Generator,
		Slot:            d.Slot,
		MaxParseRetries: d.MaxParseRetries,
		GenerateTimeout: d.GenerateTimeout,
		Hooks:           hooks,
	}
}

// NewInterpreter builds the agent that reads the user brief and writes the
// interpreted intent.
func NewInterpreter(d Deps) *Base {
	return NewBase(d.params(state.AgentInterpreter, interpreterTemplate, Hooks{
		PrepareInput: func(st *state.SharedState) any {
			return map[string]any{
				"user_brief":     st.UserBrief,
				"mode":           st.Mode,
				"clarifications": st.Clarifications,
			}
		},
		Parse: func(raw json.RawMessage, st *state.SharedState) (any, error) {
			var intent state.Intent
			if err := json.Unmarshal(raw, &intent); err != nil {
				return nil, fmt.Errorf("decoding intent: %w", err)
			}
			if !hasKey(raw, "confidence") {
				intent.Confidence = 0.7
			}
			if intent.Confidence < 0 || intent.Confidence > 1 {
				return nil, fmt.Errorf("confidence %g out of range", intent.Confidence)
			}
			if len(intent.ClarifyingQuestions) > 5 {
				intent.ClarifyingQuestions = intent.ClarifyingQuestions[:5]
			}
			st.Intent = &intent
			return &intent, nil
		},
		Degrade: func(st *state.SharedState) any {
			intent := &state.Intent{
				PrimaryGoal: st.UserBrief,
				OutputType:  outputTypeForMode(st.Mode),
				Confidence:  0,
			}
			st.Intent = intent
			return intent
		},
	}))
}

func outputTypeForMode(mode state.Mode) string {
	switch mode {
	case state.ModeProject:
		return "project_spec"
	case state.ModeLearn:
		return "learning_path"
	default:
		return "research_report"
	}
}

func hasKey(raw json.RawMessage, key string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe[key]
	return ok
}
