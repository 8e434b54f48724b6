package testspec

import (
	"fmt"
)

// Catalog is the static, in-memory spec list. Iteration order is the order
// specs were registered; run results follow it.
type Catalog struct {
	specs []Spec
	byID  map[string]int
}

func NewCatalog(specs []Spec) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(specs))}
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate spec id: %s", s.ID)
		}
		c.byID[s.ID] = len(c.specs)
		c.specs = append(c.specs, s)
	}
	return c, nil
}

func (c *Catalog) All() []Spec {
	out := make([]Spec, len(c.specs))
	copy(out, c.specs)
	return out
}

func (c *Catalog) ByID(id string) (Spec, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i], true
}

func (c *Catalog) ByCategory(cat Category) []Spec {
	var out []Spec
	for _, s := range c.specs {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) ByGroup(group string) []Spec {
	var out []Spec
	for _, s := range c.specs {
		if s.Group == group {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) WithSemantic() []Spec {
	var out []Spec
	for _, s := range c.specs {
		if s.Expect.Semantic != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) Len() int { return len(c.specs) }
