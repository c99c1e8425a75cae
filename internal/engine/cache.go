package engine

import (
	"context"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/notnil/chess"

	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/stats"
)

// DefaultCacheSize is the default number of cached evaluations.
const DefaultCacheSize = 100_000

// Cache memoizes evaluations by position and budget. Opening positions
// repeat across games, so a shared cache saves engine time on large
// archives. It is safe for concurrent use.
type Cache struct {
	lru   *lru.Cache[uint64, eval.Score]
	stats stats.Collector
}

// NewCache creates a cache holding up to size evaluations.
func NewCache(size int, collector stats.Collector) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if collector == nil {
		collector = stats.NewNoop()
	}
	l, err := lru.New[uint64, eval.Score](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, stats: collector}, nil
}

// Len returns the number of cached evaluations.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Wrap returns a factory whose evaluators consult the cache first.
func (c *Cache) Wrap(f Factory) Factory {
	return func(ctx context.Context) (Evaluator, error) {
		ev, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return &cachedEvaluator{Evaluator: ev, cache: c}, nil
	}
}

func (c *Cache) key(pos *chess.Position, budget Budget) uint64 {
	return xxhash.Sum64String(positionKey(pos) + "|" + budget.String())
}

type cachedEvaluator struct {
	Evaluator
	cache *Cache
}

func (e *cachedEvaluator) Evaluate(ctx context.Context, pos *chess.Position, budget Budget) (eval.Score, error) {
	key := e.cache.key(pos, budget)
	if s, ok := e.cache.lru.Get(key); ok {
		e.cache.stats.IncCounter(stats.MetricCacheHits, 1)
		return s, nil
	}
	e.cache.stats.IncCounter(stats.MetricCacheMisses, 1)

	s, err := e.Evaluator.Evaluate(ctx, pos, budget)
	if err != nil {
		return eval.Score{}, err
	}
	e.cache.lru.Add(key, s)
	e.cache.stats.SetGauge(stats.MetricCacheSize, int64(e.cache.lru.Len()))
	return s, nil
}
