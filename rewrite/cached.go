package rewrite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zaugust4891/ad-image-generator/logging"
)

// Model is the minimal capability a rewrite backend must provide: turn
// a seed prompt into a polished one, or fail. It is intentionally
// narrower than provider.Provider since rewriting has no image/cost
// accounting.
type Model interface {
	Polish(ctx context.Context, systemPrompt, seed string, maxTokens int) (string, error)
}

// cacheEntry is the on-disk JSONL record shape.
type cacheEntry struct {
	Seed     string `json:"seed"`
	Polished string `json:"polished"`
}

// Cached is the enabled Rewriter: in-memory LRU in front of an
// optional append-only on-disk log, falling back to the seed prompt
// unchanged on any backend failure.
type Cached struct {
	model        Model
	systemPrompt string
	maxTokens    int
	log          logging.Logger

	memo *lru.Cache[string, string]

	fileMu   sync.Mutex
	cacheFile string
}

// NewCached constructs a Cached rewriter. If cacheFile is non-empty it
// is loaded at startup (corrupt lines are skipped and logged) and every
// new entry is appended to it before Rewrite returns.
func NewCached(model Model, systemPrompt string, maxTokens int, cacheFile string, log logging.Logger) (*Cached, error) {
	memo, err := lru.New[string, string](4096)
	if err != nil {
		return nil, fmt.Errorf("rewrite: build in-memory cache: %w", err)
	}
	c := &Cached{
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		log:          log,
		memo:         memo,
		cacheFile:    cacheFile,
	}
	if cacheFile != "" {
		if err := c.load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cached) load() error {
	data, err := os.ReadFile(filepath.Clean(c.cacheFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rewrite: read cache file %s: %w", c.cacheFile, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			c.log.Warn("rewrite: skipping corrupt cache line", logging.Fields{"line": lineNo, "file": c.cacheFile, "error": err.Error()})
			continue
		}
		c.memo.Add(entry.Seed, entry.Polished)
	}
	return scanner.Err()
}

// Rewrite returns the polished form of seed, consulting the in-memory
// cache first. On any error from the backing Model it logs and returns
// seed unchanged.
func (c *Cached) Rewrite(ctx context.Context, seed string) string {
	if polished, ok := c.memo.Get(seed); ok {
		return polished
	}

	polished, err := c.model.Polish(ctx, c.systemPrompt, seed, c.maxTokens)
	if err != nil {
		c.log.Warn("rewrite: backend call failed, using seed prompt unchanged", logging.Fields{"error": err.Error()})
		return seed
	}

	c.memo.Add(seed, polished)
	if c.cacheFile != "" {
		if err := c.append(seed, polished); err != nil {
			c.log.Warn("rewrite: failed to append cache entry", logging.Fields{"error": err.Error()})
		}
	}
	return polished
}

func (c *Cached) append(seed, polished string) error {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	f, err := os.OpenFile(c.cacheFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(cacheEntry{Seed: seed, Polished: polished})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return f.Sync()
}
