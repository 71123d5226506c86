package agent

import (
	"github.com/zenhq/zen/core/config"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/state"
)

// Default model assignments. Interpretation and audit favor low temperature;
// visualization gets headroom for creative layout choices. All are subject
// to the single-model override applied by ModelSlot.
func Descriptors(cfg config.RuntimeConfig) map[state.AgentID]runtime.ModelDescriptor {
	desc := func(model string, vramMB int, temperature float64) runtime.ModelDescriptor {
		return runtime.ModelDescriptor{
			ModelID:             model,
			VRAMMB:              vramMB,
			Temperature:         temperature,
			MaxContextTokens:    cfg.MaxContextTokens,
			MaxGenerationTokens: cfg.MaxGenerationTokens,
		}
	}
	return map[state.AgentID]runtime.ModelDescriptor{
		state.AgentInterpreter: desc("llama3.1:8b", 5500, 0.3),
		state.AgentPlanner:     desc("qwen2.5:14b", 9500, 0.4),
		state.AgentGrounder:    desc("qwen2.5:14b", 9500, 0.2),
		state.AgentAuditor:     desc("llama3.1:8b", 5500, 0.2),
		state.AgentVisualizer:  desc("llama3.1:8b", 5500, 0.7),
		state.AgentJudge:       desc("qwen2.5:14b", 9500, 0.1),
	}
}
