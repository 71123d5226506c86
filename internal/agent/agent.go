// Package agent implements the deliberation agents and their shared
// think-cycle: assemble a prompt, invoke the model under the slot, extract
// and validate JSON, and degrade gracefully on failure.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

// Generator is the generation surface of the runtime client.
type Generator interface {
	Generate(ctx context.Context, req runtime.GenerateRequest) (string, error)
}

// Slot is the residency surface of the model slot.
type Slot interface {
	WithModel(ctx context.Context, desc runtime.ModelDescriptor, body func(ctx context.Context) error) error
}

// Agent is a named, stateless transformer over SharedState. Think never
// returns an error: every failure becomes a recorded error plus a degraded
// but typed output.
type Agent interface {
	ID() state.AgentID
	Descriptor() runtime.ModelDescriptor
	Think(ctx context.Context, st *state.SharedState)
}

// Appended to the prompt when a generation could not be parsed; the prompt is
// otherwise identical between attempts.
const jsonRetryInstruction = "\n\nIMPORTANT: Your previous response could not be parsed. " +
	"Respond with ONLY a valid JSON object matching the schema above. No prose, no markdown fences."

var errParseRejected = errors.New("model output rejected")

// Hooks are the three agent-specific points of the think-cycle. Parse writes
// the agent's state field on success and returns the raw output to record;
// Degrade writes a minimal fallback and returns it.
type Hooks struct {
	PrepareInput func(st *state.SharedState) any
	Evidence     func(st *state.SharedState) string
	Parse        func(raw json.RawMessage, st *state.SharedState) (any, error)
	Degrade      func(st *state.SharedState) any
}

// Params configures a Base agent.
type Params struct {
	ID              state.AgentID
	Descriptor      runtime.ModelDescriptor
	Template        string
	Generator       Generator
	Slot            Slot
	MaxParseRetries int
	GenerateTimeout time.Duration
	Hooks           Hooks
}

// Base implements the common think-cycle; agents are composed from it with
// hooks rather than inheritance.
type Base struct {
	id              state.AgentID
	desc            runtime.ModelDescriptor
	template        string
	gen             Generator
	slot            Slot
	maxParseRetries int
	genTimeout      time.Duration
	hooks           Hooks
}

func NewBase(p Params) *Base {
	return &Base{
		id:              p.ID,
		desc:            p.Descriptor,
		template:        p.Template,
		gen:             p.Generator,
		slot:            p.Slot,
		maxParseRetries: p.MaxParseRetries,
		genTimeout:      p.GenerateTimeout,
		hooks:           p.Hooks,
	}
}

func (b *Base) ID() state.AgentID {
	return b.id
}

func (b *Base) Descriptor() runtime.ModelDescriptor {
	return b.desc
}

// Think runs one full cycle. All failure paths record an error in state and
// fall back to the agent's degraded output; nothing propagates upstream.
func (b *Base) Think(ctx context.Context, st *state.SharedState) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Agent: logger.Ptr(string(b.id))})
	slog.InfoContext(ctx, "agent starting", "model", b.desc.ModelID)

	prompt, err := AssemblePrompt(b.template, b.hooks.PrepareInput(st), b.evidence(st))
	if err != nil {
		b.fail(ctx, st, err)
		return
	}

	var output any
	err = b.slot.WithModel(ctx, b.desc, func(ctx context.Context) error {
		_, genErr := b.GenerateObject(ctx, prompt, func(raw json.RawMessage) error {
			parsed, parseErr := b.hooks.Parse(raw, st)
			if parseErr != nil {
				return parseErr
			}
			output = parsed
			return nil
		})
		return genErr
	})
	if err != nil {
		b.fail(ctx, st, err)
		return
	}

	st.RecordOutput(b.id, output)
	slog.InfoContext(ctx, "agent finished")
}

// GenerateObject runs the generate-extract-accept loop: up to
// maxParseRetries re-generations with the JSON-only instruction appended.
// accept is called with each extracted object and may reject it. Generation
// transport failures abort immediately; retry budget applies to parse
// rejections only.
func (b *Base) GenerateObject(ctx context.Context, prompt string, accept func(raw json.RawMessage) error) (json.RawMessage, error) {
	attempts := b.maxParseRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		p := prompt
		if attempt > 0 {
			p = prompt + jsonRetryInstruction
		}

		out, err := b.generateOnce(ctx, p)
		if err != nil {
			return nil, err
		}

		raw, ok := ExtractJSON(out)
		if !ok {
			lastErr = fmt.Errorf("%w: no JSON object in output (%s)",
				errParseRejected, logger.Truncate(out, 120))
			slog.WarnContext(ctx, "no JSON object in model output", "attempt", attempt+1)
			continue
		}

		if err := accept(raw); err != nil {
			lastErr = fmt.Errorf("%w: %v", errParseRejected, err)
			slog.WarnContext(ctx, "model output rejected", "attempt", attempt+1, "reason", err)
			continue
		}
		return raw, nil
	}
	return nil, lastErr
}

func (b *Base) generateOnce(ctx context.Context, prompt string) (string, error) {
	if b.genTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.genTimeout)
		defer cancel()
	}
	return b.gen.Generate(ctx, runtime.GenerateRequest{
		Model:       b.desc.ModelID,
		Prompt:      prompt,
		Temperature: b.desc.Temperature,
		MaxTokens:   b.desc.MaxGenerationTokens,
		NumCtx:      b.desc.MaxContextTokens,
	})
}

func (b *Base) evidence(st *state.SharedState) string {
	if b.hooks.Evidence == nil {
		return ""
	}
	return b.hooks.Evidence(st)
}

func (b *Base) fail(ctx context.Context, st *state.SharedState, err error) {
	slog.ErrorContext(ctx, "agent degraded", "error", err)
	st.RecordError(b.id, err.Error())
	st.RecordOutput(b.id, b.hooks.Degrade(st))
}
