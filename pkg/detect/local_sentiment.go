package detect

// local_sentiment.go - Local distress scoring using Hugot/ONNX
//
// Runs a sentiment classification model on-box so the engine can score
// distress without a network hop. The adapter deadline still applies;
// a cold or missing model degrades to neutral exactly like a remote
// provider failure would.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

const (
	// SentimentModelDistilBERT is a small, fast sentiment model
	SentimentModelDistilBERT = "distilbert-base-uncased-finetuned-sst-2-english"

	// DefaultSentimentModelPath is the default on-disk model location
	DefaultSentimentModelPath = "./models/distilbert-sst2"
)

// LocalProvider scores distress with an ONNX sentiment model via Hugot.
type LocalProvider struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	ready    bool
	config   LocalProviderConfig
	logger   *slog.Logger
}

// LocalProviderConfig configures the local provider.
type LocalProviderConfig struct {
	ModelPath       string
	OnnxLibraryPath string
	// AutoDownload fetches the model on first use when missing
	AutoDownload bool
}

// DefaultLocalProviderConfig returns the default configuration, honoring
// BEACON_SENTIMENT_MODEL_PATH when set.
func DefaultLocalProviderConfig() LocalProviderConfig {
	path := os.Getenv("BEACON_SENTIMENT_MODEL_PATH")
	if path == "" {
		path = DefaultSentimentModelPath
	}
	return LocalProviderConfig{
		ModelPath:       path,
		OnnxLibraryPath: os.Getenv("BEACON_ONNX_LIBRARY_PATH"),
		AutoDownload:    os.Getenv("BEACON_AUTO_DOWNLOAD_MODELS") == "1",
	}
}

// NewLocalProvider creates a local provider. Initialization failure is an
// error here; callers that want graceful degradation should fall back to
// a nil provider on the adapter.
func NewLocalProvider(cfg LocalProviderConfig, logger *slog.Logger) (*LocalProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &LocalProvider{
		config: cfg,
		logger: logger.With("component", "local_sentiment"),
	}
	if err := p.initialize(); err != nil {
		return nil, fmt.Errorf("local sentiment initialization failed: %w", err)
	}
	return p, nil
}

func (p *LocalProvider) initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ModelReady(p.config.ModelPath) {
		if !p.config.AutoDownload {
			return fmt.Errorf("sentiment model not found at %s", p.config.ModelPath)
		}
		if err := EnsureModel(SentimentModelDistilBERT, p.config.ModelPath, p.logger); err != nil {
			return err
		}
	}

	session, err := p.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	p.session = session

	config := hugot.TextClassificationConfig{
		ModelPath: p.config.ModelPath,
		Name:      "distress-classifier",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = p.session.Destroy()
		return fmt.Errorf("failed to create classification pipeline: %w", err)
	}

	p.pipeline = pipeline
	p.ready = true
	p.logger.Info("local sentiment model loaded", "model", p.config.ModelPath)
	return nil
}

// createSession prefers the ONNX Runtime backend and falls back to the
// pure Go backend when the runtime library is unavailable.
func (p *LocalProvider) createSession() (*hugot.Session, error) {
	if p.config.OnnxLibraryPath != "" {
		opts := []options.WithOption{
			options.WithOnnxLibraryPath(p.config.OnnxLibraryPath),
		}
		session, err := hugot.NewORTSession(opts...)
		if err == nil {
			return session, nil
		}
		p.logger.Warn("ONNX Runtime unavailable, falling back to Go backend", "error", err)
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	return session, nil
}

// IsReady returns true once the model is loaded.
func (p *LocalProvider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// Assess runs the classifier and maps the negative-class probability to
// distress. The winning class probability is the confidence.
func (p *LocalProvider) Assess(_ context.Context, text string) (SentimentResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.ready || p.pipeline == nil {
		return SentimentResult{}, fmt.Errorf("local sentiment provider not ready")
	}

	out, err := p.pipeline.RunPipeline([]string{text})
	if err != nil {
		return SentimentResult{}, fmt.Errorf("classification failed: %w", err)
	}
	if len(out.ClassificationOutputs) == 0 || len(out.ClassificationOutputs[0]) == 0 {
		return SentimentResult{}, fmt.Errorf("classifier returned no output")
	}

	var distress, confidence float64
	for _, c := range out.ClassificationOutputs[0] {
		score := float64(c.Score)
		if isNegativeLabel(c.Label) {
			distress = score
		}
		if score > confidence {
			confidence = score
		}
	}
	return SentimentResult{Distress: distress, Confidence: confidence}, nil
}

func isNegativeLabel(label string) bool {
	switch strings.ToUpper(label) {
	case "NEGATIVE", "LABEL_0", "SADNESS", "FEAR":
		return true
	}
	return false
}

// Name identifies the provider.
func (p *LocalProvider) Name() string {
	return "local"
}

// Close releases the ONNX session.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	if p.session != nil {
		return p.session.Destroy()
	}
	return nil
}
