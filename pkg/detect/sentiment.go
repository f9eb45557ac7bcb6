package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SentimentResult is the distress contract required from any scoring model.
type SentimentResult struct {
	// Distress is the predicted emotional distress, 0.0 (calm) to 1.0 (acute)
	Distress float64 `json:"distress"`
	// Confidence is the model's confidence in the distress value
	Confidence float64 `json:"confidence"`
	// Degraded is true when the provider failed or timed out and the
	// neutral fallback was substituted
	Degraded bool `json:"degraded,omitempty"`
}

// NeutralSentiment is the degraded fallback: zero distress, zero confidence.
// The aggregator weighs a zero-confidence sentiment as nothing rather than
// as evidence of calm.
func NeutralSentiment() SentimentResult {
	return SentimentResult{Degraded: true}
}

// SentimentProvider is the narrow capability interface an external distress
// model must satisfy. Any provider can be substituted without touching the
// aggregator.
type SentimentProvider interface {
	// Assess scores text for distress. Implementations must honor ctx
	// cancellation; the adapter enforces the hard deadline.
	Assess(ctx context.Context, text string) (SentimentResult, error)
	// Name identifies the provider in logs and audit detail.
	Name() string
}

// SentimentAdapter wraps a provider with the engine's degradation policy:
// a hard timeout bound that the overall assessment never exceeds, and a
// neutral result instead of an error on any failure.
type SentimentAdapter struct {
	provider SentimentProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// DefaultSentimentTimeout bounds the only network-suspended pipeline stage.
const DefaultSentimentTimeout = 300 * time.Millisecond

// NewSentimentAdapter creates an adapter. A zero timeout uses the default.
func NewSentimentAdapter(provider SentimentProvider, timeout time.Duration, logger *slog.Logger) *SentimentAdapter {
	if timeout <= 0 {
		timeout = DefaultSentimentTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SentimentAdapter{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "sentiment_adapter"),
	}
}

// Assess scores text within the adapter's timeout. It never returns an
// error: on timeout or provider failure it returns the neutral degraded
// result so the pipeline continues. Out-of-range provider output is
// clamped rather than trusted.
func (a *SentimentAdapter) Assess(ctx context.Context, text string) SentimentResult {
	if a.provider == nil {
		return NeutralSentiment()
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		res SentimentResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := a.provider.Assess(ctx, text)
		ch <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		// The provider goroutine is abandoned; its eventual result is
		// discarded via the buffered channel. The deadline is the contract.
		a.logger.Warn("sentiment provider exceeded deadline, degrading to neutral",
			"provider", a.provider.Name(), "timeout", a.timeout)
		return NeutralSentiment()
	case out := <-ch:
		if out.err != nil {
			a.logger.Warn("sentiment provider failed, degrading to neutral",
				"provider", a.provider.Name(), "error", out.err)
			return NeutralSentiment()
		}
		return clampSentiment(out.res)
	}
}

func clampSentiment(r SentimentResult) SentimentResult {
	r.Distress = clamp01(r.Distress)
	r.Confidence = clamp01(r.Confidence)
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HTTPProvider calls an external distress-scoring service over HTTP.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider for the given scoring endpoint.
// The client timeout is intentionally looser than the adapter deadline;
// the adapter owns the hard bound.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: NewHTTPClient(2 * time.Second),
	}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

// Assess posts the text and decodes the provider contract
// {distress, confidence}.
func (p *HTTPProvider) Assess(ctx context.Context, text string) (SentimentResult, error) {
	payload, err := json.Marshal(sentimentRequest{Text: text})
	if err != nil {
		return SentimentResult{}, fmt.Errorf("failed to encode sentiment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return SentimentResult{}, fmt.Errorf("failed to build sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return SentimentResult{}, fmt.Errorf("sentiment request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := CheckResponse(resp, p.Name()); err != nil {
		return SentimentResult{}, err
	}

	var result SentimentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SentimentResult{}, fmt.Errorf("failed to decode sentiment response: %w", err)
	}
	return result, nil
}

// Name identifies the provider.
func (p *HTTPProvider) Name() string {
	return "http"
}

// StaticProvider returns a fixed result. Used in tests and as a stand-in
// when no model is configured.
type StaticProvider struct {
	Result SentimentResult
	Err    error
	// Delay simulates model latency before responding
	Delay time.Duration
}

// Assess returns the configured result after the configured delay.
func (p *StaticProvider) Assess(ctx context.Context, _ string) (SentimentResult, error) {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return SentimentResult{}, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	if p.Err != nil {
		return SentimentResult{}, p.Err
	}
	return p.Result, nil
}

// Name identifies the provider.
func (p *StaticProvider) Name() string {
	return "static"
}
