package normalize

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Classifier attaches tags (skills, seniority, ...) to a posting. The
// taxonomy behind it is data supplied by the caller.
type Classifier interface {
	Classify(title, description string) []string
}

// TaxonomyClassifier matches whole-word keywords per tag, case-insensitively.
type TaxonomyClassifier struct {
	tags     []string
	patterns map[string]*regexp.Regexp
}

// NewTaxonomyClassifier compiles a {tag: keywords} taxonomy.
func NewTaxonomyClassifier(taxonomy map[string][]string) (*TaxonomyClassifier, error) {
	c := &TaxonomyClassifier{patterns: make(map[string]*regexp.Regexp, len(taxonomy))}
	for tag, keywords := range taxonomy {
		alts := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" {
				alts = append(alts, regexp.QuoteMeta(kw))
			}
		}
		if len(alts) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)(?:^|[^\pL\pN])(?:` + strings.Join(alts, "|") + `)(?:[^\pL\pN]|$)`)
		if err != nil {
			return nil, fmt.Errorf("compile tag %q: %w", tag, err)
		}
		c.tags = append(c.tags, tag)
		c.patterns[tag] = re
	}
	sort.Strings(c.tags)
	return c, nil
}

// LoadTaxonomy reads a YAML file mapping tags to keyword lists.
func LoadTaxonomy(path string) (*TaxonomyClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}

	var taxonomy map[string][]string
	if err := yaml.Unmarshal(data, &taxonomy); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	return NewTaxonomyClassifier(taxonomy)
}

func (c *TaxonomyClassifier) Classify(title, description string) []string {
	text := title + "\n" + description
	var out []string
	for _, tag := range c.tags {
		if c.patterns[tag].MatchString(text) {
			out = append(out, tag)
		}
	}
	return out
}
