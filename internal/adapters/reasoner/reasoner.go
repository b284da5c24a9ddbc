// Package reasoner calls an OpenAI-compatible chat completions endpoint to
// attach narrative reasoning, and optionally a re-ranking, to a Phase A result.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/protect"
)

// CircuitName identifies the reasoning breaker.
const CircuitName = "reasoning"

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 600
	maxErrorBody     = 512
)

// Request is the input of one reasoning call.
type Request struct {
	Snapshot model.ContextSnapshot
	// Candidates is the selected set in Phase A order, primary first.
	Candidates  []scoring.Scored
	AllowRerank bool
}

// Reasoning is the parsed reply. Ranking, when set, is a permutation of
// indices into Request.Candidates.
type Reasoning struct {
	SituationAnalysis string
	PrimaryReasoning  string
	GoalAlignment     string
	Ranking           []int
}

// Client is the reasoning call the engine depends on.
type Client interface {
	Reason(ctx context.Context, req Request) (Reasoning, error)
}

// OpenAI implements Client over the chat completions API.
type OpenAI struct {
	enabled     bool
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	client      *http.Client
	guard       *protect.Guard
	log         logger.Logger
}

// Option configures an OpenAI client.
type Option func(*OpenAI)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) {
		if c != nil {
			o.client = c
		}
	}
}

// WithGuard sets the protected-call capability.
func WithGuard(g *protect.Guard) Option {
	return func(o *OpenAI) {
		if g != nil {
			o.guard = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *OpenAI) {
		if l != nil {
			o.log = l
		}
	}
}

// New creates a client from cfg.
func New(cfg config.ReasoningConfig, opts ...Option) *OpenAI {
	o := &OpenAI{
		enabled:     cfg.Enabled,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		client:      &http.Client{},
		log:         logger.Nop(),
	}
	if o.model == "" {
		o.model = defaultModel
	}
	if o.maxTokens <= 0 {
		o.maxTokens = defaultMaxTokens
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guard == nil {
		o.guard = protect.NewGuard(protect.WithTimeout(o.timeout))
	}
	return o
}

// Enabled reports whether calls are attempted at all.
func (o *OpenAI) Enabled() bool { return o.enabled }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Reason sends the prompt for req and parses the reply.
func (o *OpenAI) Reason(ctx context.Context, req Request) (Reasoning, error) {
	if !o.enabled {
		return Reasoning{}, ErrDisabled
	}
	if len(req.Candidates) == 0 {
		return Reasoning{}, fmt.Errorf("%w: no candidates", ErrMalformed)
	}
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(req)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return Reasoning{}, fmt.Errorf("reasoner: encode request: %w", err)
	}

	var content string
	err = o.guard.DoTimeout(ctx, CircuitName, o.timeout, func(ctx context.Context) error {
		var callErr error
		content, callErr = o.complete(ctx, body)
		return callErr
	})
	if err != nil {
		return Reasoning{}, err
	}
	r, err := Parse(content, len(req.Candidates))
	if err != nil {
		o.log.Warn(ctx, "unusable reasoning reply", logger.Int("length", len(content)), logger.Error(err))
		return Reasoning{}, err
	}
	return r, nil
}

func (o *OpenAI) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", protect.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &protect.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		return "", se
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", err
		}
		return "", protect.Permanent(fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", protect.Permanent(fmt.Errorf("%w: empty completion", ErrMalformed))
	}
	return out.Choices[0].Message.Content, nil
}
