package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Term tiers, highest severity first. Tier scores are fixed: matching is
// deterministic and a dictionary edit can never weaken the fast path.
const (
	// TierExplicitIntent is explicit self-harm intent: fast path, score 10
	TierExplicitIntent = 1
	// TierIdeation is ideation / passive wish vocabulary: score 7
	TierIdeation = 2
	// TierDistress is acute distress vocabulary: score 4
	TierDistress = 3
	// TierLowMood is low-mood vocabulary: score 2
	TierLowMood = 4
)

// TierScore maps a term tier to its instant severity score on the 0-10 scale.
func TierScore(tier int) float64 {
	switch tier {
	case TierExplicitIntent:
		return 10
	case TierIdeation:
		return 7
	case TierDistress:
		return 4
	case TierLowMood:
		return 2
	}
	return 0
}

// Term is one entry in a tiered risk dictionary.
type Term struct {
	Text     string         `yaml:"text" json:"text"`
	Tier     int            `yaml:"tier" json:"tier"`
	Category CrisisCategory `yaml:"category" json:"category"`
}

// Dictionary is the tiered term set for one locale.
type Dictionary struct {
	Locale string `yaml:"locale" json:"locale"`
	Terms  []Term `yaml:"terms" json:"terms"`
}

// defaultEnglishTerms is the built-in dictionary used when no YAML
// dictionaries are loaded. Terms and categories follow the platform's
// seeded crisis vocabulary.
var defaultEnglishTerms = []Term{
	// Tier 1: explicit self-harm intent — fast path
	{Text: "kill myself", Tier: TierExplicitIntent, Category: CategorySuicidalIdeation},
	{Text: "end my life", Tier: TierExplicitIntent, Category: CategorySuicidalIdeation},
	{Text: "end it all", Tier: TierExplicitIntent, Category: CategorySuicidalIdeation},
	{Text: "take my own life", Tier: TierExplicitIntent, Category: CategorySuicidalIdeation},
	{Text: "want to die", Tier: TierExplicitIntent, Category: CategorySuicidalIdeation},
	{Text: "going to hurt myself", Tier: TierExplicitIntent, Category: CategorySelfHarm},
	{Text: "cut myself tonight", Tier: TierExplicitIntent, Category: CategorySelfHarm},

	// Tier 2: ideation
	{Text: "suicide", Tier: TierIdeation, Category: CategorySuicidalIdeation},
	{Text: "suicidal", Tier: TierIdeation, Category: CategorySuicidalIdeation},
	{Text: "better off without me", Tier: TierIdeation, Category: CategorySuicidalIdeation},
	{Text: "no reason to live", Tier: TierIdeation, Category: CategorySuicidalIdeation},
	{Text: "hurt myself", Tier: TierIdeation, Category: CategorySelfHarm},
	{Text: "self harm", Tier: TierIdeation, Category: CategorySelfHarm},
	{Text: "self-harm", Tier: TierIdeation, Category: CategorySelfHarm},
	{Text: "cutting myself", Tier: TierIdeation, Category: CategorySelfHarm},

	// Tier 3: acute distress
	{Text: "hopeless", Tier: TierDistress, Category: CategorySevereDepression},
	{Text: "can't go on", Tier: TierDistress, Category: CategorySevereDepression},
	{Text: "cant go on", Tier: TierDistress, Category: CategorySevereDepression},
	{Text: "give up", Tier: TierDistress, Category: CategorySevereDepression},
	{Text: "worthless", Tier: TierDistress, Category: CategorySevereDepression},
	{Text: "can't breathe", Tier: TierDistress, Category: CategoryPanicAttack},
	{Text: "panic attack", Tier: TierDistress, Category: CategoryPanicAttack},
	{Text: "heart is racing", Tier: TierDistress, Category: CategoryPanicAttack},

	// Tier 4: low mood
	{Text: "so alone", Tier: TierLowMood, Category: CategorySevereDepression},
	{Text: "empty inside", Tier: TierLowMood, Category: CategorySevereDepression},
	{Text: "can't sleep", Tier: TierLowMood, Category: CategorySevereDepression},
	{Text: "no one cares", Tier: TierLowMood, Category: CategorySevereDepression},
}

// DefaultDictionary returns the built-in English dictionary.
func DefaultDictionary() *Dictionary {
	terms := make([]Term, len(defaultEnglishTerms))
	copy(terms, defaultEnglishTerms)
	return &Dictionary{Locale: "en", Terms: terms}
}

// Registry holds per-locale dictionaries and resolves the best dictionary
// for a requested locale. English is always present as the fallback.
type Registry struct {
	mu       sync.RWMutex
	byLocale map[string]*Dictionary
	tags     []language.Tag
	matcher  language.Matcher
}

// NewRegistry creates a registry seeded with the built-in English dictionary.
func NewRegistry() *Registry {
	r := &Registry{byLocale: make(map[string]*Dictionary)}
	r.add(DefaultDictionary())
	return r
}

func (r *Registry) add(d *Dictionary) {
	tag := language.Make(d.Locale)
	r.byLocale[tag.String()] = d
	r.tags = append(r.tags, tag)
	r.matcher = language.NewMatcher(r.tags)
}

// Add registers a dictionary, replacing any existing one for the same locale.
func (r *Registry) Add(d *Dictionary) error {
	if d == nil || len(d.Terms) == 0 {
		return fmt.Errorf("dictionary has no terms")
	}
	tag, err := language.Parse(d.Locale)
	if err != nil {
		return fmt.Errorf("invalid dictionary locale %q: %w", d.Locale, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byLocale[tag.String()]; exists {
		r.byLocale[tag.String()] = d
		return nil
	}
	r.byLocale[tag.String()] = d
	r.tags = append(r.tags, tag)
	r.matcher = language.NewMatcher(r.tags)
	return nil
}

// ForLocale resolves the closest registered dictionary for a locale string.
// Unknown or empty locales fall back to English.
func (r *Registry) ForLocale(locale string) *Dictionary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if locale == "" {
		return r.byLocale[language.English.String()]
	}
	// The matcher's returned tag can carry region extensions that are
	// not map keys; the index into the registered tags is authoritative.
	_, idx := language.MatchStrings(r.matcher, locale)
	if idx >= 0 && idx < len(r.tags) {
		if d, ok := r.byLocale[r.tags[idx].String()]; ok {
			return d
		}
	}
	return r.byLocale[language.English.String()]
}

// Locales returns the locales with a registered dictionary.
func (r *Registry) Locales() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLocale))
	for l := range r.byLocale {
		out = append(out, l)
	}
	return out
}

// LoadDir loads every *.yaml dictionary file in dir into the registry.
// A file that fails to parse is skipped; loading continues with the rest.
func (r *Registry) LoadDir(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, fmt.Errorf("failed to list dictionary files: %w", err)
	}

	loaded := 0
	var firstErr error
	for _, file := range files {
		d, err := LoadDictionaryFile(file)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := r.Add(d); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		loaded++
	}
	return loaded, firstErr
}

// LoadDictionaryFile parses a single YAML dictionary file.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary file: %w", err)
	}
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary %s: %w", path, err)
	}
	for i, t := range d.Terms {
		if t.Text == "" {
			return nil, fmt.Errorf("dictionary %s: term %d has empty text", path, i)
		}
		if TierScore(t.Tier) == 0 {
			return nil, fmt.Errorf("dictionary %s: term %q has unknown tier %d", path, t.Text, t.Tier)
		}
	}
	return &d, nil
}
