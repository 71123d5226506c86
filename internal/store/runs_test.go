package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zenhq/zen/internal/state"
	"github.com/zenhq/zen/internal/store"
)

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	execCalls []execCall
	execErr   error

	queryArgs []any
	querySQL  string
	queryRows pgx.Rows
	queryErr  error
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.querySQL = sql
	f.queryArgs = args
	return f.queryRows, f.queryErr
}

// fakeRows feeds Recent's scan loop from in-memory rows.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = row[i].(string)
		case *int:
			*d = row[i].(int)
		case **float64:
			if row[i] == nil {
				*d = nil
			} else {
				v := row[i].(float64)
				*d = &v
			}
		case *time.Time:
			*d = row[i].(time.Time)
		}
	}
	return nil
}

var _ = Describe("RunArchive", func() {
	var (
		q       *fakeQuerier
		archive *store.RunArchive
	)

	BeforeEach(func() {
		q = &fakeQuerier{}
		archive = store.NewRunArchive(q)
	})

	Describe("Migrate", func() {
		It("creates the runs table idempotently", func() {
			Expect(archive.Migrate(context.Background())).To(Succeed())
			Expect(q.execCalls).To(HaveLen(1))
			Expect(q.execCalls[0].sql).To(ContainSubstring("CREATE TABLE IF NOT EXISTS zen_runs"))
		})

		It("wraps the driver error", func() {
			q.execErr = errors.New("permission denied")
			err := archive.Migrate(context.Background())
			Expect(err).To(MatchError(ContainSubstring("creating zen_runs table")))
		})
	})

	Describe("Save", func() {
		It("inserts the run with artifact and errors as JSON", func() {
			score := 0.91
			st := state.New("sess-1", "Explain raft", state.ModeResearch, nil)
			st.DeliberationRound = 2
			st.ConsensusScore = &score
			st.FinalArtifact = &state.FinalArtifact{
				Type:     "research_report",
				Sections: []state.Section{{Title: "Overview", Content: "text", Confidence: 0.9}},
			}
			st.RecordError(state.AgentGrounder, "retrieval warning for rq1: vector search failed")

			Expect(archive.Save(context.Background(), st)).To(Succeed())

			Expect(q.execCalls).To(HaveLen(1))
			call := q.execCalls[0]
			Expect(call.sql).To(ContainSubstring("INSERT INTO zen_runs"))
			Expect(call.args).To(HaveLen(7))
			Expect(call.args[0]).To(Equal("sess-1"))
			Expect(call.args[1]).To(Equal("research"))
			Expect(call.args[2]).To(Equal("Explain raft"))
			Expect(call.args[3]).To(Equal(2))
			Expect(call.args[4]).To(Equal(&score))

			var artifact state.FinalArtifact
			Expect(json.Unmarshal(call.args[5].([]byte), &artifact)).To(Succeed())
			Expect(artifact.Sections).To(HaveLen(1))
			Expect(artifact.Sections[0].Title).To(Equal("Overview"))

			var recorded []state.ErrorRecord
			Expect(json.Unmarshal(call.args[6].([]byte), &recorded)).To(Succeed())
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].Agent).To(Equal(state.AgentGrounder))
		})

		It("stores a null artifact for a run that produced none", func() {
			st := state.New("sess-2", "brief", state.ModeLearn, nil)

			Expect(archive.Save(context.Background(), st)).To(Succeed())

			call := q.execCalls[0]
			Expect(call.args[5]).To(BeNil())
		})
	})

	Describe("Recent", func() {
		It("maps rows into summaries newest first", func() {
			now := time.Now().UTC()
			q.queryRows = &fakeRows{rows: [][]any{
				{"sess-2", "research", "second brief", 2, 0.91, 0, now},
				{"sess-1", "learn", "first brief", 1, nil, 3, now.Add(-time.Hour)},
			}}

			runs, err := archive.Recent(context.Background(), 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(q.querySQL).To(ContainSubstring("ORDER BY created_at DESC"))
			Expect(q.queryArgs).To(Equal([]any{int32(10)}))
			Expect(runs).To(HaveLen(2))
			Expect(runs[0].SessionID).To(Equal("sess-2"))
			Expect(*runs[0].Consensus).To(BeNumerically("~", 0.91, 1e-9))
			Expect(runs[1].Consensus).To(BeNil())
			Expect(runs[1].ErrorCount).To(Equal(3))
		})

		It("returns an empty list when nothing is archived", func() {
			q.queryErr = pgx.ErrNoRows
			runs, err := archive.Recent(context.Background(), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(BeEmpty())
		})

		It("propagates scan loop failures", func() {
			q.queryRows = &fakeRows{err: errors.New("connection reset")}
			_, err := archive.Recent(context.Background(), 5)
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
		})
	})
})
