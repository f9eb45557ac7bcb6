package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"
)

// PhraseSeed is a crisis phrasing example used for semantic near-miss
// matching: language the lexical dictionary misses ("I don't see the
// point of waking up anymore") but that sits close to a seeded phrase in
// embedding space.
type PhraseSeed struct {
	Text     string         `yaml:"text" json:"text"`
	Tier     int            `yaml:"tier" json:"tier"`
	Category CrisisCategory `yaml:"category" json:"category"`
}

type seedFile struct {
	Seeds []PhraseSeed `yaml:"seeds"`
}

// SemanticMatch is the best seed neighbor found for a text.
type SemanticMatch struct {
	Seed       PhraseSeed `json:"seed"`
	Similarity float64    `json:"similarity"`
	// ScoreFloor is the keyword-scale score this match guarantees.
	// Semantic matches raise the lexical score, never lower it, and are
	// capped below the fast-path tier: embeddings alone never force the
	// critical override.
	ScoreFloor float64 `json:"score_floor"`
}

// SemanticMatcher finds near-miss crisis phrasing with an embedded vector
// store. When the embedder is unavailable the matcher reports not ready
// and the pipeline proceeds on lexical matching alone.
type SemanticMatcher struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   EmbeddingProvider
	threshold  float64
	mu         sync.RWMutex
	seeds      map[string]PhraseSeed
}

// DefaultSemanticThreshold is the minimum cosine similarity for a seed
// match to count.
const DefaultSemanticThreshold = 0.78

// NewSemanticMatcher creates a matcher backed by an in-memory collection.
// A zero threshold uses the default.
func NewSemanticMatcher(embedder EmbeddingProvider, threshold float64) (*SemanticMatcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("semantic matcher requires an embedder")
	}
	if threshold <= 0 {
		threshold = DefaultSemanticThreshold
	}

	db := chromem.NewDB()
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.CreateCollection("crisis_phrases", nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create phrase collection: %w", err)
	}

	return &SemanticMatcher{
		db:         db,
		collection: collection,
		embedder:   embedder,
		threshold:  threshold,
		seeds:      make(map[string]PhraseSeed),
	}, nil
}

// AddSeeds embeds and indexes phrase seeds.
func (m *SemanticMatcher) AddSeeds(ctx context.Context, seeds []PhraseSeed) (int, error) {
	added := 0
	for _, seed := range seeds {
		if seed.Text == "" || TierScore(seed.Tier) == 0 {
			continue
		}
		// Random IDs: positional IDs would collide across calls and
		// silently overwrite earlier seeds in the collection.
		id := uuid.NewString()
		doc := chromem.Document{
			ID:      id,
			Content: seed.Text,
			Metadata: map[string]string{
				"tier":     strconv.Itoa(seed.Tier),
				"category": string(seed.Category),
			},
		}
		if err := m.collection.AddDocument(ctx, doc); err != nil {
			return added, fmt.Errorf("failed to index seed %q: %w", seed.Text, err)
		}
		m.mu.Lock()
		m.seeds[id] = seed
		m.mu.Unlock()
		added++
	}
	return added, nil
}

// LoadSeedDir loads every *.yaml seed file in dir.
func (m *SemanticMatcher) LoadSeedDir(ctx context.Context, dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, fmt.Errorf("failed to list seed files: %w", err)
	}
	total := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return total, fmt.Errorf("failed to read seed file %s: %w", file, err)
		}
		var f seedFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return total, fmt.Errorf("failed to parse seed file %s: %w", file, err)
		}
		n, err := m.AddSeeds(ctx, f.Seeds)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Match returns the closest seed when its similarity clears the threshold.
func (m *SemanticMatcher) Match(ctx context.Context, text string) (SemanticMatch, bool) {
	m.mu.RLock()
	count := len(m.seeds)
	m.mu.RUnlock()
	if count == 0 {
		return SemanticMatch{}, false
	}

	results, err := m.collection.Query(ctx, text, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return SemanticMatch{}, false
	}

	best := results[0]
	sim := float64(best.Similarity)
	if sim < m.threshold {
		return SemanticMatch{}, false
	}

	m.mu.RLock()
	seed, ok := m.seeds[best.ID]
	m.mu.RUnlock()
	if !ok {
		return SemanticMatch{}, false
	}

	floor := TierScore(seed.Tier)
	// Semantic evidence never triggers the fast path: cap below tier 1.
	if maxFloor := TierScore(TierIdeation); floor > maxFloor {
		floor = maxFloor
	}
	return SemanticMatch{Seed: seed, Similarity: sim, ScoreFloor: floor * sim}, true
}

// SeedCount returns the number of indexed seeds.
func (m *SemanticMatcher) SeedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seeds)
}
