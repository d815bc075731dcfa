package eligibility

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// seedEntry is one person in a registry seed file.
type seedEntry struct {
	NationalID string `yaml:"national_id"`
	FullName   string `yaml:"full_name"`
	BirthDate  string `yaml:"birth_date"` // YYYY-MM-DD
	Eligible   bool   `yaml:"eligible"`
}

// LoadSeedFile reads a YAML seed file and returns a registry populated with
// its entries. Used by development deployments that have no live authority
// connection.
func LoadSeedFile(path string) (*InMemoryRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eligibility seed: %w", err)
	}

	var entries []seedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse eligibility seed: %w", err)
	}

	registry := NewInMemoryRegistry()
	for i, e := range entries {
		birth, err := time.Parse("2006-01-02", e.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("eligibility seed entry %d: bad birth_date %q: %w", i, e.BirthDate, err)
		}
		registry.Seed(Person{
			NationalID: e.NationalID,
			FullName:   e.FullName,
			BirthDate:  birth,
			Eligible:   e.Eligible,
		})
	}
	return registry, nil
}
