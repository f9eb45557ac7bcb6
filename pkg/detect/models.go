package detect

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Model auto-download for the local ONNX providers. First use fetches
// the minimal files Hugot needs for inference, so deployments do not
// have to run a setup script before the sentiment classifier and the
// phrase embedder come up.

const huggingFaceBaseURL = "https://huggingface.co"

// modelFiles is the minimal file set for ONNX inference.
var modelFiles = []struct {
	name     string
	required bool
}{
	{"model.onnx", true},
	{"tokenizer.json", true},
	{"config.json", true},
	{"tokenizer_config.json", true},
	{"special_tokens_map.json", false},
}

// one download at a time per process
var downloadMu sync.Mutex

// ModelReady reports whether a usable ONNX model sits at modelPath.
func ModelReady(modelPath string) bool {
	for _, f := range modelFiles {
		if !f.required {
			continue
		}
		if _, err := os.Stat(filepath.Join(modelPath, f.name)); err != nil {
			return false
		}
	}
	return true
}

// EnsureModel downloads the model from repoID into modelPath if it is
// not already present. Safe to call from multiple goroutines.
func EnsureModel(repoID, modelPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if ModelReady(modelPath) {
		return nil
	}

	downloadMu.Lock()
	defer downloadMu.Unlock()
	if ModelReady(modelPath) {
		return nil
	}

	logger.Info("downloading model, one-time setup", "repo", repoID, "path", modelPath)
	if err := os.MkdirAll(modelPath, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	baseURL := fmt.Sprintf("%s/%s/resolve/main", huggingFaceBaseURL, repoID)
	for _, f := range modelFiles {
		dest := filepath.Join(modelPath, f.name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := downloadFile(baseURL+"/"+f.name, dest); err != nil {
			if f.required {
				return fmt.Errorf("failed to download %s: %w", f.name, err)
			}
			logger.Warn("optional model file unavailable", "file", f.name, "error", err)
			continue
		}
		logger.Info("model file downloaded", "file", f.name)
	}
	return nil
}

// downloadFile fetches one file to a temp path and renames it into place
// so a crashed download never leaves a truncated model behind.
func downloadFile(url, dest string) error {
	tmp := dest + ".tmp"
	defer func() { _ = os.Remove(tmp) }()

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	client := NewHTTPClient(0)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	_ = out.Close()
	return os.Rename(tmp, dest)
}
