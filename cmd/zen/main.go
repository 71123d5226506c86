package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zenhq/zen/common/id"
	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/common/otel"
	"github.com/zenhq/zen/core/config"
	"github.com/zenhq/zen/core/db"
	"github.com/zenhq/zen/internal/agent"
	"github.com/zenhq/zen/internal/citation"
	"github.com/zenhq/zen/internal/engine"
	"github.com/zenhq/zen/internal/retrieval"
	"github.com/zenhq/zen/internal/runtime"
	"github.com/zenhq/zen/internal/search"
	"github.com/zenhq/zen/internal/state"
	"github.com/zenhq/zen/internal/store"
	"github.com/zenhq/zen/internal/vector"
)

// Exit codes: 0 accepted artifact, 1 configuration or fatal error, 2 run
// finished without an acceptable artifact, 130 interrupted.
const (
	exitOK          = 0
	exitFatal       = 1
	exitNoArtifact  = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

type clarifyFlag map[string]string

func (c clarifyFlag) String() string { return "" }

func (c clarifyFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	c[key] = value
	return nil
}

func run() int {
	var (
		modeFlag    = flag.String("mode", "research", "pipeline mode: research, project or learn")
		sessionFlag = flag.String("session", "", "session id (generated when empty)")
		timeoutFlag = flag.Int("timeout", 0, "overall run timeout in seconds (0 = none)")
		bibFlag     = flag.String("bib", "plain", "bibliography style: apa, ieee, mla or plain")
		recentFlag  = flag.Int("recent", 0, "list the N most recently archived runs and exit")
		clarify     = clarifyFlag{}
	)
	flag.Var(clarify, "clarify", "clarification as key=value (repeatable)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		return exitFatal
	}
	logger.Setup(cfg)

	if *recentFlag > 0 {
		return listRecent(ctx, cfg, int32(*recentFlag))
	}

	brief := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if brief == "" {
		fmt.Fprintln(os.Stderr, "usage: zen [flags] <brief>")
		flag.PrintDefaults()
		return exitFatal
	}

	mode, err := state.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		return exitFatal
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.WarnContext(ctx, "telemetry shutdown", "error", err)
			}
		}()
	}

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		return exitFatal
	}

	slog.InfoContext(ctx, "zen starting", "env", cfg.Env, "mode", mode)

	client := runtime.NewClient(cfg.Runtime)
	slot := runtime.NewModelSlot(client, cfg.Runtime)

	citations := citation.NewRegistry()
	retriever := retrieval.New(
		vectorSearcher(ctx, cfg),
		webSearcher(ctx, cfg),
		citations,
		retrieval.Options{
			VectorK:     cfg.Vector.K,
			WebK:        cfg.Search.WebK,
			Concurrency: cfg.Engine.RetrievalConcurrency,
			ContentCap:  cfg.Search.MaxContentLength,
		})

	descs := agent.Descriptors(cfg.Runtime)
	deps := func(agentID state.AgentID) agent.Deps {
		return agent.Deps{
			Generator:       client,
			Slot:            slot,
			Descriptor:      descs[agentID],
			MaxParseRetries: cfg.Engine.MaxParseRetries,
			GenerateTimeout: cfg.Runtime.GenerateTimeout,
		}
	}

	eng := engine.New(cfg.Engine, slot)
	eng.Register(agent.NewInterpreter(deps(state.AgentInterpreter)))
	eng.Register(agent.NewPlanner(deps(state.AgentPlanner)))
	eng.Register(agent.NewGrounder(deps(state.AgentGrounder), retriever, cfg.Engine.MaxSourcesPerQuestion))
	eng.Register(agent.NewAuditor(deps(state.AgentAuditor)))
	eng.Register(agent.NewVisualizer(deps(state.AgentVisualizer)))
	eng.Register(agent.NewJudge(deps(state.AgentJudge), cfg.Engine.ConsensusThreshold, cfg.Engine.MaxDeliberationRounds))
	defer eng.Close()

	archive, closeArchive := runArchive(ctx, cfg)
	if closeArchive != nil {
		defer closeArchive()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeoutFlag > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(*timeoutFlag)*time.Second)
		defer cancel()
	}

	st, runErr := eng.Run(runCtx, brief, mode, clarify, *sessionFlag)

	if archive != nil && st != nil {
		if err := archive.Save(ctx, st); err != nil {
			slog.WarnContext(ctx, "failed to archive run", "error", err)
		}
	}

	if st != nil {
		printSummary(st, citations, citation.Style(*bibFlag))
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		slog.WarnContext(ctx, "run interrupted")
		return exitInterrupted
	case runErr != nil:
		slog.ErrorContext(ctx, "run failed", "error", runErr)
		return exitFatal
	case st.FinalArtifact == nil || len(st.FinalArtifact.Sections) == 0:
		return exitNoArtifact
	default:
		return exitOK
	}
}

// webSearcher builds the web search capability, wrapped in the Redis cache
// when one is configured. Returns nil when web search is disabled.
func webSearcher(ctx context.Context, cfg config.Config) search.Searcher {
	if !cfg.Search.Enabled() {
		slog.InfoContext(ctx, "web search disabled")
		return nil
	}
	var searcher search.Searcher = search.NewSearxClient(cfg.Search)

	if cfg.Cache.Enabled() {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			slog.WarnContext(ctx, "invalid redis url, search cache disabled", "error", err)
			return searcher
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unreachable, search cache disabled", "error", err)
			return searcher
		}
		searcher = search.NewCachedSearcher(searcher, search.NewRedisCache(rdb), cfg.Cache.TTL)
		slog.InfoContext(ctx, "search cache enabled", "ttl", cfg.Cache.TTL)
	}
	return searcher
}

// vectorSearcher builds the vector store capability. Returns nil when the
// store is not configured or unreachable; retrieval degrades to web only.
func vectorSearcher(ctx context.Context, cfg config.Config) retrieval.VectorSearcher {
	if !cfg.Vector.Enabled() {
		slog.InfoContext(ctx, "vector store disabled")
		return nil
	}
	vs := vector.NewStore(cfg.Vector)
	if err := vs.EnsureCollection(ctx); err != nil {
		slog.WarnContext(ctx, "vector store unavailable", "error", err)
		return nil
	}
	return vs
}

func runArchive(ctx context.Context, cfg config.Config) (*store.RunArchive, func()) {
	if !cfg.Archive.Enabled() {
		return nil, nil
	}
	database, err := db.New(ctx, db.Config{
		DSN:      cfg.Archive.DSN,
		MaxConns: cfg.Archive.MaxConns,
		MinConns: cfg.Archive.MinConns,
	})
	if err != nil {
		slog.WarnContext(ctx, "run archive unavailable", "error", err)
		return nil, nil
	}
	archive := store.NewRunArchive(database.Pool())
	if err := archive.Migrate(ctx); err != nil {
		slog.WarnContext(ctx, "run archive migration failed", "error", err)
		database.Close()
		return nil, nil
	}
	return archive, database.Close
}

// listRecent prints the most recently archived runs, newest first.
func listRecent(ctx context.Context, cfg config.Config, limit int32) int {
	if !cfg.Archive.Enabled() {
		fmt.Fprintln(os.Stderr, "run archive not configured, set DATABASE_URL")
		return exitFatal
	}
	archive, closeArchive := runArchive(ctx, cfg)
	if archive == nil {
		return exitFatal
	}
	defer closeArchive()

	runs, err := archive.Recent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list archived runs", "error", err)
		return exitFatal
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return exitOK
	}
	for _, r := range runs {
		consensus := "-"
		if r.Consensus != nil {
			consensus = fmt.Sprintf("%.2f", *r.Consensus)
		}
		fmt.Printf("%s  %-8s  rounds=%d  consensus=%s  errors=%d  %s\n",
			r.CreatedAt.Format(time.RFC3339), r.Mode, r.Rounds, consensus, r.ErrorCount, r.UserBrief)
	}
	return exitOK
}

func printSummary(st *state.SharedState, citations *citation.Registry, style citation.Style) {
	fmt.Println()
	fmt.Printf("session:   %s\n", st.SessionID)
	fmt.Printf("mode:      %s\n", st.Mode)
	fmt.Printf("rounds:    %d\n", st.DeliberationRound)
	if st.ConsensusScore != nil {
		fmt.Printf("consensus: %.2f\n", *st.ConsensusScore)
	}
	if len(st.Errors) > 0 {
		fmt.Printf("errors:    %d\n", len(st.Errors))
		for _, e := range st.Errors {
			fmt.Printf("  [%s] %s\n", e.Agent, e.Message)
		}
	}

	if st.FinalArtifact == nil || len(st.FinalArtifact.Sections) == 0 {
		fmt.Println("\nno artifact produced")
		return
	}

	fmt.Println()
	for _, section := range st.FinalArtifact.Sections {
		printSection(section, 1)
	}

	if bib := citations.Bibliography(style); bib != "" {
		fmt.Println("## References")
		fmt.Println()
		fmt.Println(bib)
	}
}

func printSection(s state.Section, depth int) {
	fmt.Printf("%s %s\n\n%s\n\n", strings.Repeat("#", depth+1), s.Title, s.Content)
	for _, sub := range s.Subsections {
		printSection(sub, depth+1)
	}
}

const banner = `
███████╗███████╗███╗   ██╗
╚══███╔╝██╔════╝████╗  ██║
  ███╔╝ █████╗  ██╔██╗ ██║
 ███╔╝  ██╔══╝  ██║╚██╗██║
███████╗███████╗██║ ╚████║
╚══════╝╚══════╝╚═╝  ╚═══╝
`
