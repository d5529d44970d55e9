// Package rewrite implements the optional Prompt Rewriter: a capability
// that polishes a seed prompt through an LLM call, cached both
// in-memory (a bounded LRU) and on disk (an append-only JSONL log) so a
// seed still held in the in-memory cache is not rewritten again. The
// on-disk log is read only at startup; a seed evicted from the LRU goes
// back to the model.
package rewrite

import (
	"context"
)

// Rewriter turns a seed prompt into a polished one. A Rewriter must
// never return an error from Rewrite for a soft failure: on any
// upstream problem it logs and falls back to returning seed unchanged.
type Rewriter interface {
	Rewrite(ctx context.Context, seed string) string
}

// Disabled is the no-op Rewriter used when run-config.yaml sets
// rewrite.enabled: false. It is the default.
type Disabled struct{}

func (Disabled) Rewrite(_ context.Context, seed string) string { return seed }
