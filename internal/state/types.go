package state

import "fmt"

// Intent is the Interpreter's reading of the user brief.
type Intent struct {
	PrimaryGoal           string   `json:"primary_goal"`
	Domain                string   `json:"domain,omitempty"`
	OutputType            string   `json:"output_type" jsonschema:"enum=research_report,enum=project_spec,enum=learning_path"`
	Scope                 string   `json:"scope,omitempty" jsonschema:"enum=broad,enum=moderate,enum=narrow"`
	ExtractedRequirements []string `json:"extracted_requirements,omitempty"`
	Ambiguities           []string `json:"ambiguities,omitempty"`
	ClarifyingQuestions   []string `json:"clarifying_questions,omitempty"`
	Confidence            float64  `json:"confidence"`
}

// ResearchQuestion is one node of the Planner's research plan.
type ResearchQuestion struct {
	ID                   string   `json:"id"`
	Question             string   `json:"question"`
	Type                 string   `json:"type" jsonschema:"enum=factual,enum=analytical,enum=comparative,enum=exploratory"`
	Priority             string   `json:"priority" jsonschema:"enum=critical,enum=high,enum=medium,enum=low"`
	EstimatedTimeMinutes float64  `json:"estimated_time_minutes"`
	Dependencies         []string `json:"dependencies,omitempty"`
}

type Phase struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RQIDs       []string `json:"rq_ids,omitempty"`
	Parallel    bool     `json:"parallel"`
}

// Plan is the Planner's output. Dependencies between research questions must
// form a DAG over the declared question IDs.
type Plan struct {
	ResearchQuestions         []ResearchQuestion `json:"research_questions"`
	Phases                    []Phase            `json:"phases,omitempty"`
	SuccessCriteria           []string           `json:"success_criteria,omitempty"`
	EstimatedTotalTimeMinutes float64            `json:"estimated_total_time_minutes"`
}

// Validate checks that question IDs are unique and non-empty, that every
// dependency references a declared question, and that the dependency graph
// is acyclic.
func (p *Plan) Validate() error {
	if len(p.ResearchQuestions) == 0 {
		return fmt.Errorf("plan has no research questions")
	}

	ids := make(map[string]bool, len(p.ResearchQuestions))
	for _, rq := range p.ResearchQuestions {
		if rq.ID == "" {
			return fmt.Errorf("research question %q has an empty id", rq.Question)
		}
		if ids[rq.ID] {
			return fmt.Errorf("duplicate research question id %q", rq.ID)
		}
		ids[rq.ID] = true
	}

	deps := make(map[string][]string, len(p.ResearchQuestions))
	for _, rq := range p.ResearchQuestions {
		for _, dep := range rq.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("research question %q depends on unknown id %q", rq.ID, dep)
			}
			deps[rq.ID] = append(deps[rq.ID], dep)
		}
	}

	// Cycle detection via three-color DFS.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through research question %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// QuestionIDs returns the declared research question IDs in plan order.
func (p *Plan) QuestionIDs() []string {
	out := make([]string, 0, len(p.ResearchQuestions))
	for _, rq := range p.ResearchQuestions {
		out = append(out, rq.ID)
	}
	return out
}

// EvidenceRef cites a source from the question's evidence list.
type EvidenceRef struct {
	SourceID    string `json:"source_id"`
	Excerpt     string `json:"excerpt,omitempty"`
	Reliability string `json:"reliability" jsonschema:"enum=high,enum=medium,enum=low"`
}

type KeyFinding struct {
	Finding    string        `json:"finding"`
	Evidence   []EvidenceRef `json:"evidence,omitempty"`
	Confidence float64       `json:"confidence"`
}

// ResearchFinding is the Grounder's answer to one research question.
type ResearchFinding struct {
	QuestionID        string       `json:"question_id"`
	Answer            string       `json:"answer"`
	KeyFindings       []KeyFinding `json:"key_findings,omitempty"`
	Contradictions    []string     `json:"contradictions,omitempty"`
	KnowledgeGaps     []string     `json:"knowledge_gaps,omitempty"`
	OverallConfidence float64      `json:"overall_confidence"`
}

type Risk struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Likelihood  string `json:"likelihood,omitempty"`
	Mitigation  string `json:"mitigation,omitempty"`
}

type RiskAssessment struct {
	OverallRiskLevel string `json:"overall_risk_level" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	Risks            []Risk `json:"risks,omitempty"`
}

type TechnicalDependency struct {
	Name         string `json:"name"`
	Reason       string `json:"reason,omitempty"`
	Availability string `json:"availability,omitempty"`
}

type AuditDependencies struct {
	Technical []TechnicalDependency `json:"technical,omitempty"`
	Knowledge []string              `json:"knowledge,omitempty"`
}

type FeasibilityAssessment struct {
	Technical float64  `json:"technical"`
	Resource  float64  `json:"resource"`
	Time      float64  `json:"time"`
	Overall   float64  `json:"overall"`
	Blockers  []string `json:"blockers,omitempty"`
}

// AuditReport is the Auditor's output.
type AuditReport struct {
	RiskAssessment        RiskAssessment        `json:"risk_assessment"`
	Dependencies          AuditDependencies     `json:"dependencies"`
	SecurityConcerns      []string              `json:"security_concerns,omitempty"`
	FeasibilityAssessment FeasibilityAssessment `json:"feasibility_assessment"`
	Recommendations       []string              `json:"recommendations,omitempty"`
}

// Visualization is one entry of the Visualizer's output. Specification is an
// opaque JSON-serializable object interpreted by the renderer.
type Visualization struct {
	ID            string         `json:"id"`
	Type          string         `json:"type" jsonschema:"enum=chart,enum=diagram,enum=flowchart,enum=architecture,enum=image"`
	Title         string         `json:"title"`
	Purpose       string         `json:"purpose,omitempty"`
	Specification map[string]any `json:"specification,omitempty"`
}

type Section struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Subsections []Section `json:"subsections,omitempty"`
	Confidence  float64   `json:"confidence"`
	Evidence    []string  `json:"evidence,omitempty"`
}

// FinalArtifact is the Judge's synthesized result.
type FinalArtifact struct {
	Type     string         `json:"type"`
	Sections []Section      `json:"sections"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Decision string

const (
	DecisionAccept        Decision = "accept"
	DecisionNeedsRevision Decision = "needs_revision"
)

// ConsensusScore carries the Judge's self-reported sub-scores. Overall must
// equal the mean of the three sub-scores.
type ConsensusScore struct {
	Groundedness float64 `json:"groundedness"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Overall      float64 `json:"overall"`
}

// Verdict is the Judge's raw output: the final artifact plus the consensus
// evaluation and the accept/revise decision.
type Verdict struct {
	Decision      Decision       `json:"decision" jsonschema:"enum=accept,enum=needs_revision"`
	RevisionNotes []string       `json:"revision_notes,omitempty"`
	Consensus     ConsensusScore `json:"consensus_score"`
	Artifact      FinalArtifact  `json:"artifact"`
}

// SourceRecord is one unit of retrieved evidence for a research question.
type SourceRecord struct {
	Origin         string  `json:"origin"` // "web" or "vector"
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	Content        string  `json:"content,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	CitationID     string  `json:"citation_id,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}
