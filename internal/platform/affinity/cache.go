package affinity

import (
	"context"
	"strings"
	"sync"
)

// Scorer is the scoring contract shared with the matching engine.
type Scorer interface {
	Score(ctx context.Context, issue string, history []string, specialty string) (int, error)
}

// Cache memoizes successful scores. Identical questions within one batch
// run are common because every patient is scored against every caregiver.
type Cache struct {
	next    Scorer
	maxSize int

	mu      sync.RWMutex
	entries map[string]int
}

// NewCache wraps next. When maxSize entries are held the cache is cleared.
func NewCache(next Scorer, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{next: next, maxSize: maxSize, entries: make(map[string]int)}
}

func cacheKey(issue string, history []string, specialty string) string {
	var b strings.Builder
	b.WriteString(issue)
	b.WriteByte(0)
	b.WriteString(strings.Join(history, "\x1f"))
	b.WriteByte(0)
	b.WriteString(specialty)
	return b.String()
}

func (c *Cache) Score(ctx context.Context, issue string, history []string, specialty string) (int, error) {
	key := cacheKey(issue, history, specialty)

	c.mu.RLock()
	score, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return score, nil
	}

	score, err := c.next.Score(ctx, issue, history, specialty)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[string]int)
	}
	c.entries[key] = score
	c.mu.Unlock()
	return score, nil
}

// Len reports how many scores are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
