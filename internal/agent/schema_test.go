package agent_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zenhq/zen/internal/agent"
	"github.com/zenhq/zen/internal/state"
)

var _ = Describe("SchemaJSON", func() {
	parse := func(raw string) map[string]any {
		var schema map[string]any
		Expect(json.Unmarshal([]byte(raw), &schema)).To(Succeed())
		return schema
	}

	It("renders the verdict schema despite the self-referential section type", func() {
		raw := agent.SchemaJSON[state.Verdict]()

		schema := parse(raw)
		Expect(schema).To(HaveKey("$defs"))
		Expect(raw).To(ContainSubstring("subsections"))
		Expect(raw).To(ContainSubstring("consensus_score"))
	})

	It("renders a schema for every agent output type", func() {
		for _, raw := range []string{
			agent.SchemaJSON[state.Intent](),
			agent.SchemaJSON[state.Plan](),
			agent.SchemaJSON[state.ResearchFinding](),
			agent.SchemaJSON[state.AuditReport](),
			agent.SchemaJSON[state.Verdict](),
		} {
			schema := parse(raw)
			Expect(schema).NotTo(BeEmpty())
			Expect(raw).To(ContainSubstring(`"additionalProperties": false`))
		}
	})

	It("keeps enum constraints in the reflected schema", func() {
		raw := agent.SchemaJSON[state.Intent]()
		Expect(raw).To(ContainSubstring("research_report"))
		Expect(raw).To(ContainSubstring("learning_path"))
	})
})
