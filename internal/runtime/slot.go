package runtime

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/core/config"
)

// ModelDescriptor declares an agent's model requirements. Set once per agent
// at construction and never mutated.
type ModelDescriptor struct {
	ModelID             string
	VRAMMB              int
	Temperature         float64
	MaxContextTokens    int
	MaxGenerationTokens int
}

// Loader is the subset of the runtime client ModelSlot drives.
type Loader interface {
	Load(ctx context.Context, modelID string) error
	Unload(ctx context.Context, modelID string) error
}

// ModelSlot guarantees at most one model resident in accelerator memory.
// Callers acquire the slot for the duration of their body; the lock is
// non-reentrant and totally orders concurrent callers.
type ModelSlot struct {
	mu      sync.Mutex
	rt      Loader
	cfg     config.RuntimeConfig
	current *ModelDescriptor

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewModelSlot(rt Loader, cfg config.RuntimeConfig) *ModelSlot {
	return &ModelSlot{
		rt:    rt,
		cfg:   cfg,
		sleep: sleepCtx,
	}
}

// WithModel ensures desc's model is resident, then runs body while holding
// the slot. A different resident model is unloaded first, followed by a
// settle wait so the runtime can free memory. Loading retries up to the
// configured attempt budget with exponential backoff and jitter; each
// attempt is bounded by a sub-deadline. On exhaustion WithModel returns
// ModelLoadFailed without running body.
func (s *ModelSlot) WithModel(ctx context.Context, desc ModelDescriptor, body func(ctx context.Context) error) error {
	desc = s.effective(desc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if s.current == nil || s.current.ModelID != desc.ModelID {
		if err := s.swapLocked(ctx, desc); err != nil {
			return err
		}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Model: logger.Ptr(desc.ModelID)})
	return body(ctx)
}

// Release evicts the resident model, if any. Best effort: shutdown must not
// be blocked by a failed unload.
func (s *ModelSlot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rt.Unload(ctx, s.current.ModelID); err != nil {
		slog.Warn("model unload on release failed", "model", s.current.ModelID, "error", err)
	}
	s.current = nil
}

// Current returns the resident model id, or empty when the slot is free.
func (s *ModelSlot) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ModelID
}

// effective applies the single-model override, which pins every agent to one
// model and eliminates swap latency on small machines.
func (s *ModelSlot) effective(desc ModelDescriptor) ModelDescriptor {
	if s.cfg.SingleModel == "" {
		return desc
	}
	desc.ModelID = s.cfg.SingleModel
	desc.VRAMMB = s.cfg.SingleModelVRAMMB
	return desc
}

func (s *ModelSlot) swapLocked(ctx context.Context, desc ModelDescriptor) error {
	if s.current != nil {
		unloadCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadAttemptTimeout)
		err := s.rt.Unload(unloadCtx, s.current.ModelID)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "model unload failed, proceeding with load",
				"model", s.current.ModelID, "error", err)
		}
		s.current = nil

		if err := s.sleep(ctx, s.cfg.SwapSettle); err != nil {
			return err
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < s.cfg.LoadRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoff(s.cfg.LoadBackoffBase, attempt-1)); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadAttemptTimeout)
		err := s.rt.Load(attemptCtx, desc.ModelID)
		cancel()
		attempts++
		if err == nil {
			s.current = &desc
			slog.InfoContext(ctx, "model loaded",
				"model", desc.ModelID, "vram_mb", desc.VRAMMB, "attempt", attempt+1)
			return nil
		}

		lastErr = err
		slog.WarnContext(ctx, "model load attempt failed",
			"model", desc.ModelID, "attempt", attempt+1, "error", err)

		if !retryable(ctx, err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			break
		}
	}

	return &ModelLoadFailed{Model: desc.ModelID, Attempts: attempts, Last: lastErr}
}

// backoff returns base * 2^attempt with ±50% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
