// Package generator implements the deterministic, restartable prompt
// sequence described in spec §4.1: a lazy cycle over an AdTemplate's
// styles, or an unending repeat of a GeneralPrompt's single prompt.
package generator

import (
	"fmt"
	"sync"

	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/template"
)

// Generator produces the next seed prompt on demand. It holds no
// external state and never blocks.
type Generator interface {
	Next() domain.Prompt
}

// New builds the Generator appropriate to t's concrete variant.
func New(t template.Template) (Generator, error) {
	switch v := t.(type) {
	case *template.AdTemplate:
		if len(v.Styles) == 0 {
			return nil, fmt.Errorf("generator: AdTemplate.styles must be non-empty")
		}
		return &adGenerator{tmpl: v}, nil
	case *template.GeneralPrompt:
		return &generalGenerator{tmpl: v}, nil
	default:
		return nil, fmt.Errorf("generator: unknown template type %T", t)
	}
}

// adGenerator cycles over styles starting at index 0, wrapping forever.
type adGenerator struct {
	mu   sync.Mutex
	tmpl *template.AdTemplate
	next int
}

func (g *adGenerator) Next() domain.Prompt {
	g.mu.Lock()
	style := g.tmpl.Styles[g.next%len(g.tmpl.Styles)]
	g.next++
	g.mu.Unlock()

	seed := fmt.Sprintf("An advertisement image for %s %s in style: %s", g.tmpl.Brand, g.tmpl.Product, style)
	return domain.Prompt{Seed: seed}
}

// generalGenerator yields the same prompt indefinitely.
type generalGenerator struct {
	tmpl *template.GeneralPrompt
}

func (g *generalGenerator) Next() domain.Prompt {
	return domain.Prompt{Seed: g.tmpl.Prompt}
}
