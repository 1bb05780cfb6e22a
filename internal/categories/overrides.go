package categories

import (
	"os"

	"github.com/alexharl/vulture-events-backend/internal/tags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Overrides is the hand-curated table loaded from categories.overrides_path
type Overrides struct {
	Categories []Definition     `yaml:"categories"` // appended to the built-in taxonomy
	Promotions []Promotion      `yaml:"promotions"`
	Injections []tags.Injection `yaml:"injections"` // appended to the built-in tag injections
	Blacklist  []string         `yaml:"blacklist"`  // extra noise words
}

// LoadOverrides reads an override table. An empty path yields an empty table.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, errors.Wrap(err, "failed to read category overrides")
	}
	var o Overrides
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Overrides{}, errors.Wrap(err, "failed to parse category overrides")
	}
	for i, p := range o.Promotions {
		if p.Category == "" {
			return Overrides{}, errors.Errorf("promotion %d has no category", i)
		}
	}
	return o, nil
}

// Build returns the classifier and tag resolver with the overrides applied
func (o Overrides) Build() (*Classifier, *tags.Resolver, error) {
	defs := append(append([]Definition{}, DefaultTaxonomy...), o.Categories...)
	classifier, err := NewClassifier(defs, o.Promotions)
	if err != nil {
		return nil, nil, err
	}

	blacklist := append(append([]string{}, tags.DefaultBlacklist...), o.Blacklist...)
	injections := append(append([]tags.Injection{}, tags.DefaultInjections...), o.Injections...)

	return classifier, tags.NewResolver(blacklist, injections), nil
}
