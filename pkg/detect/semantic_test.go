package detect

import (
	"context"
	"hash/fnv"
	"math"
	"testing"
)

// hashEmbedder maps each text deterministically onto a unit vector so
// the matcher can be exercised without a model. Identical texts embed
// identically; distinct texts almost never do.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((sum>>(i*8))&0xff) + 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (hashEmbedder) Dimension() int { return 8 }

func TestAddSeedsKeepsEarlierSeeds(t *testing.T) {
	m, err := NewSemanticMatcher(hashEmbedder{}, 0.95)
	if err != nil {
		t.Fatalf("matcher construction failed: %v", err)
	}
	ctx := context.Background()

	added, err := m.AddSeeds(ctx, []PhraseSeed{
		{Text: "no point in waking up anymore", Tier: 2, Category: CategorySuicidalIdeation},
		{Text: "everyone would be better off without me around", Tier: 2, Category: CategorySuicidalIdeation},
	})
	if err != nil || added != 2 {
		t.Fatalf("first load added %d seeds, err %v", added, err)
	}
	added, err = m.AddSeeds(ctx, []PhraseSeed{
		{Text: "cannot keep doing this any longer", Tier: 3, Category: CategorySevereDepression},
	})
	if err != nil || added != 1 {
		t.Fatalf("second load added %d seeds, err %v", added, err)
	}

	if got := m.SeedCount(); got != 3 {
		t.Errorf("seed count = %d after two loads, want 3", got)
	}

	// A later load must not displace a seed indexed by an earlier one.
	match, ok := m.Match(ctx, "no point in waking up anymore")
	if !ok || match.Seed.Text != "no point in waking up anymore" {
		t.Errorf("first-load seed no longer matches, got %+v (ok=%v)", match, ok)
	}
	match, ok = m.Match(ctx, "cannot keep doing this any longer")
	if !ok || match.Seed.Text != "cannot keep doing this any longer" {
		t.Errorf("second-load seed does not match, got %+v (ok=%v)", match, ok)
	}
}

func TestLoadSeedDirAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeDictFile(t, dir, "ideation.yaml", `seeds:
  - text: "wish i could just disappear"
    tier: 2
    category: suicidal_ideation
  - text: "nothing matters anymore"
    tier: 3
    category: severe_depression
`)
	writeDictFile(t, dir, "depression.yaml", `seeds:
  - text: "tired of being alive"
    tier: 2
    category: suicidal_ideation
`)

	m, err := NewSemanticMatcher(hashEmbedder{}, 0.95)
	if err != nil {
		t.Fatalf("matcher construction failed: %v", err)
	}
	total, err := m.LoadSeedDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("seed load failed: %v", err)
	}
	if total != 3 || m.SeedCount() != 3 {
		t.Errorf("loaded %d seeds with count %d, want 3 and 3", total, m.SeedCount())
	}
}

func TestSemanticFloorCappedBelowFastPath(t *testing.T) {
	m, err := NewSemanticMatcher(hashEmbedder{}, 0.95)
	if err != nil {
		t.Fatalf("matcher construction failed: %v", err)
	}
	ctx := context.Background()
	if _, err := m.AddSeeds(ctx, []PhraseSeed{
		{Text: "going to finish it tonight", Tier: 1, Category: CategorySuicidalIdeation},
	}); err != nil {
		t.Fatalf("seed load failed: %v", err)
	}

	match, ok := m.Match(ctx, "going to finish it tonight")
	if !ok {
		t.Fatal("identical text should match its seed")
	}
	// Allow for float32 cosine rounding a hair above 1.
	if ceiling := TierScore(TierIdeation) + 1e-4; match.ScoreFloor > ceiling {
		t.Errorf("score floor %v exceeds the ideation ceiling %v", match.ScoreFloor, ceiling)
	}
}
