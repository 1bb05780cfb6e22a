// Package tags turns free-text subtitles into a clean, ordered tag list.
package tags

import (
	"regexp"
	"strings"
)

const minTagLength = 3

var separators = regexp.MustCompile(`,|\+`)

// DefaultBlacklist holds the noise words that are never tags
var DefaultBlacklist = []string{"präsentiert", "tour", "und", "mit"}

// Injection adds a canonical tag when any alias tag or title substring matches
type Injection struct {
	Tag           string   `yaml:"tag"`
	Aliases       []string `yaml:"aliases"`
	TitleContains []string `yaml:"title_contains"`
}

// DefaultInjections normalizes the many drum and bass spellings to one tag
var DefaultInjections = []Injection{
	{
		Tag: "DnB",
		Aliases: []string{
			"dnb", "drum and bass", "drum & bass", "drum'n'bass", "drum 'n' bass",
			"drum n' bass", "drum n bass", "drumnbass", "drumandbass",
		},
	},
}

// Resolver splits text into tags
type Resolver struct {
	blacklist  map[string]struct{}
	injections []Injection
}

// NewResolver creates a resolver with the given blacklist and injection rules
func NewResolver(blacklist []string, injections []Injection) *Resolver {
	bl := make(map[string]struct{}, len(blacklist))
	for _, word := range blacklist {
		bl[strings.ToLower(word)] = struct{}{}
	}
	return &Resolver{blacklist: bl, injections: injections}
}

// NewDefaultResolver creates a resolver with the built-in blacklist and injections
func NewDefaultResolver() *Resolver {
	return NewResolver(DefaultBlacklist, DefaultInjections)
}

// Resolve returns the tags found in text. Original casing is kept,
// duplicates (compared case-insensitively) keep their first position.
func (r *Resolver) Resolve(text string) []string {
	result := []string{}
	seen := make(map[string]struct{})

	for _, token := range separators.Split(text, -1) {
		tag := strings.TrimSpace(token)
		if len([]rune(tag)) < minTagLength {
			continue
		}
		lower := strings.ToLower(tag)
		if _, blocked := r.blacklist[lower]; blocked {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, tag)
	}

	return result
}

// Inject appends the canonical tags whose aliases or title substrings match
func (r *Resolver) Inject(title string, tags []string) []string {
	present := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		present[strings.ToLower(t)] = struct{}{}
	}
	lowerTitle := strings.ToLower(title)

	for _, inj := range r.injections {
		if _, ok := present[strings.ToLower(inj.Tag)]; ok {
			continue
		}
		if matchesAny(present, inj.Aliases) || containsAny(lowerTitle, inj.TitleContains) {
			tags = append(tags, inj.Tag)
			present[strings.ToLower(inj.Tag)] = struct{}{}
		}
	}

	return tags
}

// ResolveAll resolves text and applies injections in one step
func (r *Resolver) ResolveAll(title, text string) []string {
	return r.Inject(title, r.Resolve(text))
}

func matchesAny(present map[string]struct{}, aliases []string) bool {
	for _, alias := range aliases {
		if _, ok := present[strings.ToLower(alias)]; ok {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
