package domain

// Prompt is a seed prompt produced by the variant generator, optionally
// polished by the rewriter.
type Prompt struct {
	Seed      string
	Rewritten string // empty when not rewritten
}

// Effective returns the rewritten prompt when present, else the seed.
func (p Prompt) Effective() string {
	if p.Rewritten != "" {
		return p.Rewritten
	}
	return p.Seed
}
