// Package runtime talks to the local model runtime (Ollama) and enforces the
// single-slot model residency policy.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zenhq/zen/common/logger"
	"github.com/zenhq/zen/core/config"
)

// Generation options carried on every request, matching the runtime's tuned
// defaults for deliberation output.
const (
	repeatPenalty = 1.15
	topK          = 40
	topP          = 0.95
)

// Client is a blocking HTTP client for the model runtime. It performs no
// retries; retry policy belongs to ModelSlot. Deadlines and cancellation
// come from the caller's context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxCtx     int
	maxGen     int
}

func NewClient(cfg config.RuntimeConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		maxCtx:     cfg.MaxContextTokens,
		maxGen:     cfg.MaxGenerationTokens,
	}
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	NumCtx      int
}

type generateOptions struct {
	Temperature   float64 `json:"temperature"`
	NumCtx        int     `json:"num_ctx"`
	NumPredict    int     `json:"num_predict"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
}

type generateBody struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	Options   *generateOptions `json:"options,omitempty"`
	KeepAlive int              `json:"keep_alive"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate submits a blocking generation request. keep_alive is always 0 so
// the runtime frees the model immediately after responding; residency across
// a think-cycle is ModelSlot's concern.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	numCtx := req.NumCtx
	if numCtx <= 0 || numCtx > c.maxCtx {
		numCtx = c.maxCtx
	}
	numPredict := req.MaxTokens
	if numPredict <= 0 || numPredict > c.maxGen {
		numPredict = c.maxGen
	}

	body := generateBody{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		Options: &generateOptions{
			Temperature:   req.Temperature,
			NumCtx:        numCtx,
			NumPredict:    numPredict,
			RepeatPenalty: repeatPenalty,
			TopK:          topK,
			TopP:          topP,
		},
		KeepAlive: 0,
	}

	raw, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &RuntimeError{Message: fmt.Sprintf("malformed generate response: %v", err)}
	}

	slog.DebugContext(ctx, "generation complete",
		"model", req.Model,
		"response_preview", logger.Truncate(resp.Response, 200))

	return resp.Response, nil
}

// Load asks the runtime to materialize the model. An empty-prompt generate
// forces the runtime to pull the weights into memory and reports ModelAbsent
// if the model is not installed.
func (c *Client) Load(ctx context.Context, modelID string) error {
	_, err := c.post(ctx, "/api/generate", generateBody{
		Model:     modelID,
		Stream:    false,
		KeepAlive: 0,
	})
	return err
}

// Unload requests immediate eviction of the model from accelerator memory.
func (c *Client) Unload(ctx context.Context, modelID string) error {
	_, err := c.post(ctx, "/api/generate", generateBody{
		Model:     modelID,
		Stream:    false,
		KeepAlive: 0,
	})
	return err
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// EnsurePresent probes the runtime's installed model list. Returns
// ErrModelAbsent when the model is not installed.
func (c *Client) EnsurePresent(ctx context.Context, modelID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building tags request: %w", err)
	}

	raw, err := c.do(httpReq)
	if err != nil {
		return err
	}

	var tags tagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return &RuntimeError{Message: fmt.Sprintf("malformed tags response: %v", err)}
	}

	for _, m := range tags.Models {
		if m.Name == modelID || strings.TrimSuffix(m.Name, ":latest") == modelID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelAbsent, modelID)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrRuntimeTimeout, req.URL.Path)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reading response", ErrRuntimeTimeout)
		}
		return nil, fmt.Errorf("%w: reading response: %v", ErrRuntimeUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrModelAbsent, logger.Truncate(string(raw), 200))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &RuntimeError{
			StatusCode: resp.StatusCode,
			Message:    logger.Truncate(string(raw), 500),
		}
	}
	return raw, nil
}
