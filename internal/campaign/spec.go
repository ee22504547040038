package campaign

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rtb-bidder/internal/predicate"
)

var ErrInvalid = errors.New("invalid campaign")

// AttributeSpec is either an expression or a dimension rule.
type AttributeSpec struct {
	Expr      string   `json:"expr,omitempty" yaml:"expr,omitempty"`
	Dimension string   `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"` // INCLUDE | EXCLUDE
	Values    []string `json:"values,omitempty" yaml:"values,omitempty"`
}

type CreativeSpec struct {
	ImpID      string  `json:"impid" yaml:"impid"`
	W          int     `json:"w" yaml:"w"`
	H          int     `json:"h" yaml:"h"`
	ForwardURL string  `json:"forwardurl" yaml:"forwardurl"`
	ImageURL   string  `json:"imageurl,omitempty" yaml:"imageurl,omitempty"`
	AdM        string  `json:"adm,omitempty" yaml:"adm,omitempty"`
	Price      float64 `json:"price,omitempty" yaml:"price,omitempty"`
}

// Spec is the serialized definition of a campaign, as found in campaign
// files, command payloads and the database.
type Spec struct {
	Owner      string          `json:"owner" yaml:"owner"`
	ID         string          `json:"id" yaml:"id"`
	Price      float64         `json:"price" yaml:"price"`
	AdDomain   string          `json:"adomain,omitempty" yaml:"adomain,omitempty"`
	Attributes []AttributeSpec `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Creatives  []CreativeSpec  `json:"creatives" yaml:"creatives"`
}

// Build validates the spec and compiles its attributes.
func (s Spec) Build() (*Campaign, error) {
	if s.Owner == "" || s.ID == "" {
		return nil, fmt.Errorf("%w: owner and id are required", ErrInvalid)
	}
	if len(s.Creatives) == 0 {
		return nil, fmt.Errorf("%w: %s/%s has no creatives", ErrInvalid, s.Owner, s.ID)
	}

	c := &Campaign{
		Owner:    s.Owner,
		ID:       s.ID,
		Price:    s.Price,
		AdDomain: s.AdDomain,
	}

	sample := SampleEnv()
	for i, a := range s.Attributes {
		n, err := a.node(sample)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s attribute %d: %v", ErrInvalid, s.Owner, s.ID, i, err)
		}
		c.Attributes = append(c.Attributes, n)
	}

	seen := make(map[string]struct{}, len(s.Creatives))
	for _, cs := range s.Creatives {
		if cs.ImpID == "" {
			return nil, fmt.Errorf("%w: %s/%s creative without impid", ErrInvalid, s.Owner, s.ID)
		}
		if _, dup := seen[cs.ImpID]; dup {
			return nil, fmt.Errorf("%w: %s/%s duplicate creative %s", ErrInvalid, s.Owner, s.ID, cs.ImpID)
		}
		seen[cs.ImpID] = struct{}{}
		c.Creatives = append(c.Creatives, Creative(cs))
	}
	return c, nil
}

func (a AttributeSpec) node(sample predicate.Env) (predicate.Node, error) {
	if a.Expr != "" {
		return predicate.NewExpr(a.Expr, sample)
	}
	if a.Dimension == "" {
		return nil, errors.New("either expr or dimension is required")
	}
	if _, ok := sample[strings.ToLower(a.Dimension)]; !ok {
		return nil, fmt.Errorf("%w: %s", predicate.ErrUnknownDimension, a.Dimension)
	}
	include := true
	switch strings.ToUpper(a.Type) {
	case "", "INCLUDE":
	case "EXCLUDE":
		include = false
	default:
		return nil, fmt.Errorf("unknown rule type %q", a.Type)
	}
	return predicate.NewRule(a.Dimension, include, a.Values...), nil
}

// BuildAll compiles every spec, failing on the first invalid one.
func BuildAll(specs []Spec) ([]*Campaign, error) {
	out := make([]*Campaign, 0, len(specs))
	for _, s := range specs {
		c, err := s.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type file struct {
	Campaigns []Spec `yaml:"campaigns"`
}

// LoadFile reads a YAML campaign file.
func LoadFile(path string) ([]*Campaign, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open campaign file %s: %w", path, err)
	}
	defer f.Close()

	var doc file
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode campaign file %s: %w", path, err)
	}
	return BuildAll(doc.Campaigns)
}
