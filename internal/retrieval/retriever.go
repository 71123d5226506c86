// Package retrieval assembles per-question evidence by fanning out to the
// vector store and web search, then ranking, deduplicating and capping the
// combined sources.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/internal/citation"
	"github.com/zenhq/zen/internal/search"
	"github.com/zenhq/zen/internal/state"
	"github.com/zenhq/zen/internal/vector"
)

// VectorSearcher is the read surface of the vector store.
type VectorSearcher interface {
	Search(ctx context.Context, query string, k int) ([]vector.Hit, error)
}

// Options tune the fanout. Zero values fall back to the documented defaults.
type Options struct {
	VectorK     int
	WebK        int
	Concurrency int
	ContentCap  int
}

func (o Options) withDefaults() Options {
	if o.VectorK <= 0 {
		o.VectorK = 5
	}
	if o.WebK <= 0 {
		o.WebK = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.ContentCap <= 0 {
		o.ContentCap = 5000
	}
	return o
}

// Retriever never fails: each sub-query failure becomes a per-question
// warning and the question still maps to whatever sources were assembled.
// Either capability may be nil, contributing nothing.
type Retriever struct {
	vec       VectorSearcher
	web       search.Searcher
	citations *citation.Registry
	opts      Options
}

func New(vec VectorSearcher, web search.Searcher, citations *citation.Registry, opts Options) *Retriever {
	return &Retriever{
		vec:       vec,
		web:       web,
		citations: citations,
		opts:      opts.withDefaults(),
	}
}

type questionResult struct {
	vecHits []vector.Hit
	vecErr  error
	webHits []search.Result
	webErr  error
}

// Retrieve fans out vector and web queries for every question with bounded
// concurrency, then assembles the evidence sequentially so citation
// registration stays ordered. On cancellation it returns whatever has been
// assembled so far.
func (r *Retriever) Retrieve(ctx context.Context, questions []state.ResearchQuestion, maxPerQuestion int) (map[string][]state.SourceRecord, map[string][]string) {
	results := make([]questionResult, len(questions))

	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	run := func(task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			task()
		}()
	}

	for i, rq := range questions {
		i, rq := i, rq
		if r.vec != nil {
			run(func() {
				if err := ctx.Err(); err != nil {
					results[i].vecErr = err
					return
				}
				results[i].vecHits, results[i].vecErr = r.vec.Search(ctx, rq.Question, r.opts.VectorK)
			})
		}
		if r.web != nil {
			run(func() {
				if err := ctx.Err(); err != nil {
					results[i].webErr = err
					return
				}
				results[i].webHits, results[i].webErr = r.web.Search(ctx, rq.Question, r.opts.WebK)
			})
		}
	}
	wg.Wait()

	evidence := make(map[string][]state.SourceRecord, len(questions))
	warnings := map[string][]string{}
	for i, rq := range questions {
		records, warns := r.assemble(ctx, rq, results[i], maxPerQuestion)
		evidence[rq.ID] = records
		if len(warns) > 0 {
			warnings[rq.ID] = warns
		}
	}
	return evidence, warnings
}

func (r *Retriever) assemble(ctx context.Context, rq state.ResearchQuestion, res questionResult, maxPerQuestion int) ([]state.SourceRecord, []string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{QuestionID: logger.Ptr(rq.ID)})
	var warns []string
	records := make([]state.SourceRecord, 0, len(res.vecHits)+len(res.webHits))

	if res.vecErr != nil {
		warns = append(warns, fmt.Sprintf("vector search failed: %v", res.vecErr))
		slog.WarnContext(ctx, "vector search failed", "error", res.vecErr)
	}
	for _, h := range res.vecHits {
		rec := state.SourceRecord{
			Origin:         "vector",
			Title:          h.Title,
			Content:        logger.Truncate(h.Content, r.opts.ContentCap),
			RelevanceScore: clamp01(1 - h.Distance),
		}
		if rec.Title == "" {
			if t, ok := h.Metadata["title"].(string); ok {
				rec.Title = t
			}
		}
		if u, ok := h.Metadata["url"].(string); ok {
			rec.URL = u
		}
		records = append(records, rec)
	}

	if res.webErr != nil {
		warns = append(warns, fmt.Sprintf("web search failed: %v", res.webErr))
		slog.WarnContext(ctx, "web search failed", "error", res.webErr)
	}
	for i, w := range res.webHits {
		records = append(records, state.SourceRecord{
			Origin:         "web",
			Title:          w.Title,
			URL:            w.URL,
			Content:        logger.Truncate(w.Content, r.opts.ContentCap),
			Snippet:        w.Snippet,
			CitationID:     r.citations.Register(w.Title, w.URL, "web"),
			RelevanceScore: 1 - float64(i)/float64(r.opts.WebK),
		})
	}

	records = dedupe(records)

	// Vector records precede web records, so a stable sort keeps vector
	// before web on score ties.
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].RelevanceScore > records[b].RelevanceScore
	})

	if len(records) > maxPerQuestion {
		records = records[:maxPerQuestion]
	}
	return records, warns
}

// dedupe collapses duplicates by URL and by (title, first 200 chars of
// content) across origins, keeping the record with the higher score.
func dedupe(records []state.SourceRecord) []state.SourceRecord {
	keep := make([]state.SourceRecord, 0, len(records))
	index := map[string]int{}

	keysFor := func(rec state.SourceRecord) []string {
		var keys []string
		if rec.URL != "" {
			keys = append(keys, "url:"+rec.URL)
		}
		content := rec.Content
		if len(content) > 200 {
			content = content[:200]
		}
		keys = append(keys, "tc:"+rec.Title+"\x00"+content)
		return keys
	}

	for _, rec := range records {
		existing := -1
		for _, key := range keysFor(rec) {
			if at, ok := index[key]; ok {
				existing = at
				break
			}
		}
		if existing >= 0 {
			if rec.RelevanceScore > keep[existing].RelevanceScore {
				keep[existing] = rec
			}
			continue
		}
		at := len(keep)
		keep = append(keep, rec)
		for _, key := range keysFor(rec) {
			index[key] = at
		}
	}
	return keep
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
