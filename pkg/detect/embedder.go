package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// EmbeddingProvider generates embeddings for text. The semantic matcher
// accepts any implementation; LocalEmbedder is the in-process default.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

const (
	// EmbeddingModelMiniLM is a small, fast embedding model (~80MB, 384 dims)
	EmbeddingModelMiniLM = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultEmbeddingModelPath is the default on-disk model location
	DefaultEmbeddingModelPath = "./models/all-MiniLM-L6-v2"

	// EmbeddingDimension is the output dimension for MiniLM-L6-v2
	EmbeddingDimension = 384
)

// LocalEmbedder produces embeddings with an ONNX feature-extraction model
// via Hugot, so the semantic matcher needs no network dependency.
type LocalEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.RWMutex
	ready    bool
	logger   *slog.Logger
}

// NewLocalEmbedder loads the embedding model at modelPath. An empty path
// uses the default, honoring BEACON_EMBEDDING_MODEL_PATH when set.
func NewLocalEmbedder(modelPath string, logger *slog.Logger) (*LocalEmbedder, error) {
	if modelPath == "" {
		modelPath = os.Getenv("BEACON_EMBEDDING_MODEL_PATH")
	}
	if modelPath == "" {
		modelPath = DefaultEmbeddingModelPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &LocalEmbedder{logger: logger.With("component", "local_embedder")}

	if !ModelReady(modelPath) {
		if os.Getenv("BEACON_AUTO_DOWNLOAD_MODELS") != "1" {
			return nil, fmt.Errorf("embedding model not found at %s", modelPath)
		}
		if err := EnsureModel(EmbeddingModelMiniLM, modelPath, e.logger); err != nil {
			return nil, err
		}
	}

	session, err := e.createSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.session = session

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "phrase-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.ready = true
	e.logger.Info("embedding model loaded", "model", modelPath)
	return e, nil
}

func (e *LocalEmbedder) createSession() (*hugot.Session, error) {
	if onnxPath := os.Getenv("BEACON_ONNX_LIBRARY_PATH"); onnxPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxPath))
		if err == nil {
			return session, nil
		}
		e.logger.Warn("ONNX Runtime unavailable, falling back to Go backend", "error", err)
	}
	return hugot.NewGoSession()
}

// Embed generates an embedding for one text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.pipeline == nil {
		return nil, fmt.Errorf("embedder not ready")
	}
	result, err := e.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Embeddings[0], nil
}

// Dimension returns the embedding dimension.
func (e *LocalEmbedder) Dimension() int {
	return EmbeddingDimension
}

// Close releases the ONNX session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
