// Package taxonomy maps raw merchant categories onto the "New Category"
// spending taxonomy used for segmentation.
package taxonomy

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/segment-cli/internal/model"
)

// File is the on-disk YAML layout. The YAML has a top-level "taxonomy" key.
type File struct {
	Default    string              `yaml:"default"`
	Categories map[string][]string `yaml:"categories"`
}

// Taxonomy is a compiled merchant-category lookup.
type Taxonomy struct {
	lookup   map[string]string
	fallback string
	identity bool
}

// Identity returns a taxonomy that keeps every merchant category as is.
func Identity() *Taxonomy {
	return &Taxonomy{identity: true}
}

// Load reads a taxonomy from a YAML file.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// Parse compiles a taxonomy from YAML bytes. A merchant category listed under
// two different targets is an error.
func Parse(data []byte) (*Taxonomy, error) {
	var wrapper struct {
		Taxonomy File `yaml:"taxonomy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse")
	}
	return New(wrapper.Taxonomy)
}

// New compiles a taxonomy from its decoded form.
func New(f File) (*Taxonomy, error) {
	if len(f.Categories) == 0 {
		return nil, eris.New("taxonomy: no categories defined")
	}

	targets := make([]string, 0, len(f.Categories))
	for target := range f.Categories {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	t := &Taxonomy{
		lookup:   make(map[string]string),
		fallback: strings.TrimSpace(f.Default),
	}
	for _, target := range targets {
		name := strings.TrimSpace(target)
		if name == "" {
			return nil, eris.New("taxonomy: empty category name")
		}
		for _, merchant := range f.Categories[target] {
			key := normalize(merchant)
			if key == "" {
				continue
			}
			if prev, ok := t.lookup[key]; ok && prev != name {
				return nil, eris.Errorf("taxonomy: merchant category %q mapped to both %q and %q", merchant, prev, name)
			}
			t.lookup[key] = name
		}
	}
	return t, nil
}

// Map returns the new category for a merchant category. Unlisted categories
// go to the default when one is configured, otherwise they pass through.
func (t *Taxonomy) Map(merchant string) string {
	if t.identity {
		return merchant
	}
	if name, ok := t.lookup[normalize(merchant)]; ok {
		return name
	}
	if t.fallback != "" {
		return t.fallback
	}
	return merchant
}

// Apply returns a copy of orders with Category set from MerchantCategory,
// and the merchant categories that matched no entry.
func (t *Taxonomy) Apply(orders []model.Order) ([]model.Order, []string) {
	out := make([]model.Order, len(orders))
	unmatched := make(map[string]bool)
	for i, o := range orders {
		o.Category = t.Map(o.MerchantCategory)
		if !t.identity {
			if _, ok := t.lookup[normalize(o.MerchantCategory)]; !ok {
				unmatched[o.MerchantCategory] = true
			}
		}
		out[i] = o
	}

	names := make([]string, 0, len(unmatched))
	for name := range unmatched {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names
}

func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
