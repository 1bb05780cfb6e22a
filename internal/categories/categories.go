// Package categories maps resolved tags onto the fixed category taxonomy.
package categories

import (
	"regexp"
	"strings"

	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/pkg/errors"
)

// Definition is the declarative form of a category
type Definition struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Tags  []string `yaml:"tags"`
	Regex string   `yaml:"regex"`
}

// DefaultTaxonomy is the built-in category list
var DefaultTaxonomy = []Definition{
	{
		ID:   "dnb",
		Name: "Drum & Bass",
		Tags: []string{"dnb", "drum and bass", "drum & bass", "drum'n'bass", "drum 'n' bass", "drum n' bass", "drum n bass", "drumnbass", "drumandbass"},
	},
	{ID: "hiphop", Name: "Hip-Hop", Tags: []string{"hiphop", "hip hop", "hip-hop"}},
	{ID: "punk", Name: "Punk", Regex: "punk"},
	{ID: "rock", Name: "Rock", Regex: "rock|metal"},
	{ID: "pop", Name: "Pop", Regex: "pop"},
	{ID: "rap", Name: "Rap", Regex: "rap"},
	{ID: "techno", Name: "Techno", Tags: []string{"downtempo"}, Regex: "techno|house"},
	{ID: "psy", Name: "Psy / Goa", Tags: []string{"goa", "psy", "tek"}},
	{ID: "dub", Name: "Dub / Reggae", Tags: []string{"reggae", "dub", "bass"}},
	{ID: "sonstiges", Name: "Sonstiges", Tags: []string{"lesung", "markt", "podcast", "bingo", "flohmarkt"}},
}

// Promotion adds a category to events matching hand-curated conditions.
// All non-empty conditions must hold; a promotion without conditions never fires.
type Promotion struct {
	Category      string   `yaml:"category"`
	Origin        string   `yaml:"origin"`
	TitleContains []string `yaml:"title_contains"`
	TagsAny       []string `yaml:"tags_any"`
	CategoriesAny []string `yaml:"categories_any"`
}

type category struct {
	id    string
	name  string
	tags  map[string]struct{}
	regex *regexp.Regexp
}

// Classifier resolves tags to category ids. It is read-only after construction.
type Classifier struct {
	categories []category
	promotions []Promotion
}

// NewClassifier compiles a taxonomy and a promotion table
func NewClassifier(defs []Definition, promotions []Promotion) (*Classifier, error) {
	c := &Classifier{promotions: promotions}
	for _, def := range defs {
		if def.ID == "" {
			return nil, errors.New("category without id")
		}
		cat := category{id: def.ID, name: def.Name, tags: make(map[string]struct{}, len(def.Tags))}
		for _, t := range def.Tags {
			cat.tags[strings.ToLower(t)] = struct{}{}
		}
		if def.Regex != "" {
			re, err := regexp.Compile(def.Regex)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid regex for category %s", def.ID)
			}
			cat.regex = re
		}
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

// NewDefaultClassifier returns the classifier for the built-in taxonomy
func NewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultTaxonomy, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the deduplicated category ids matched by tags, in taxonomy order
// of first match. No match yields an empty, non-nil slice.
func (c *Classifier) Classify(tags []string) []string {
	result := []string{}
	seen := make(map[string]struct{})

	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, cat := range c.categories {
			if _, done := seen[cat.id]; done {
				continue
			}
			if cat.matches(lower) {
				seen[cat.id] = struct{}{}
				result = append(result, cat.id)
			}
		}
	}

	return result
}

// Promote applies the promotion table to an already classified event
func (c *Classifier) Promote(event models.Event) []string {
	cats := event.Categories
	present := make(map[string]struct{}, len(cats))
	for _, id := range cats {
		present[id] = struct{}{}
	}

	for _, p := range c.promotions {
		if _, ok := present[p.Category]; ok {
			continue
		}
		if p.applies(event) {
			cats = append(cats, p.Category)
			present[p.Category] = struct{}{}
		}
	}
	return cats
}

// Apply classifies the event's tags and runs promotions, keeping categories already set
func (c *Classifier) Apply(event *models.Event) {
	cats := append([]string{}, event.Categories...)
	have := make(map[string]struct{}, len(cats))
	for _, id := range cats {
		have[id] = struct{}{}
	}
	for _, id := range c.Classify(event.Tags) {
		if _, ok := have[id]; !ok {
			cats = append(cats, id)
			have[id] = struct{}{}
		}
	}
	event.Categories = cats
	event.Categories = c.Promote(*event)
}

// Categories lists the taxonomy
func (c *Classifier) Categories() []models.Category {
	out := make([]models.Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, models.Category{ID: cat.id, Name: cat.name})
	}
	return out
}

func (cat category) matches(lowerTag string) bool {
	if _, ok := cat.tags[lowerTag]; ok {
		return true
	}
	return cat.regex != nil && cat.regex.MatchString(lowerTag)
}

func (p Promotion) applies(event models.Event) bool {
	conditions := 0

	if p.Origin != "" {
		conditions++
		if p.Origin != event.Origin {
			return false
		}
	}
	if len(p.TitleContains) > 0 {
		conditions++
		title := strings.ToLower(event.Title)
		found := false
		for _, s := range p.TitleContains {
			if strings.Contains(title, strings.ToLower(s)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.TagsAny) > 0 {
		conditions++
		if !intersectsFold(event.Tags, p.TagsAny) {
			return false
		}
	}
	if len(p.CategoriesAny) > 0 {
		conditions++
		if !intersectsFold(event.Categories, p.CategoriesAny) {
			return false
		}
	}

	return conditions > 0
}

func intersectsFold(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
