package escalation

import "strings"

// CrisisResource is one entry in the hotline directory surfaced by the
// displayResources action.
type CrisisResource struct {
	Name        string `json:"name" yaml:"name"`
	Phone       string `json:"phone" yaml:"phone"`
	Region      string `json:"region" yaml:"region"`
	Description string `json:"description" yaml:"description"`
	Available   string `json:"available" yaml:"available"`
}

// ResourceDirectory maps region codes to crisis resources. Lookups for
// unknown regions fall back to the international entries.
type ResourceDirectory struct {
	byRegion map[string][]CrisisResource
	fallback []CrisisResource
}

// DefaultResourceDirectory returns the built-in hotline directory.
// Deployments extend it per region at startup.
func DefaultResourceDirectory() *ResourceDirectory {
	d := &ResourceDirectory{byRegion: make(map[string][]CrisisResource)}
	d.Add(CrisisResource{
		Name:        "988 Suicide & Crisis Lifeline",
		Phone:       "988",
		Region:      "US",
		Description: "Call or text 988 for free, confidential crisis support",
		Available:   "24/7",
	})
	d.Add(CrisisResource{
		Name:        "Crisis Text Line",
		Phone:       "741741",
		Region:      "US",
		Description: "Text HOME to 741741 to reach a crisis counselor",
		Available:   "24/7",
	})
	d.Add(CrisisResource{
		Name:        "Samaritans",
		Phone:       "116 123",
		Region:      "GB",
		Description: "Free helpline for anyone in emotional distress",
		Available:   "24/7",
	})
	d.Add(CrisisResource{
		Name:        "Befrienders Kenya",
		Phone:       "+254 722 178 177",
		Region:      "KE",
		Description: "Emotional support for people in distress",
		Available:   "24/7",
	})
	d.fallback = []CrisisResource{{
		Name:        "Befrienders Worldwide",
		Phone:       "",
		Region:      "INTL",
		Description: "Directory of crisis helplines by country at befrienders.org",
		Available:   "varies",
	}}
	return d
}

// Add registers a resource under its region.
func (d *ResourceDirectory) Add(r CrisisResource) {
	region := strings.ToUpper(r.Region)
	d.byRegion[region] = append(d.byRegion[region], r)
}

// ForRegion returns the resources for a region, falling back to the
// international entries when the region is unknown.
func (d *ResourceDirectory) ForRegion(region string) []CrisisResource {
	if rs, ok := d.byRegion[strings.ToUpper(region)]; ok {
		return rs
	}
	return d.fallback
}
