package abtest

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/storage/sqlite"
)

// Rand abstracts the random source so tests can supply a seeded generator.
// *math/rand.Rand satisfies it. The selector serializes all calls to the
// injected source, so it need not be safe for concurrent use itself.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// lockedRand serializes draws from the underlying source. math/rand
// generators are not safe for concurrent use, and selection runs on every
// inbound request.
type lockedRand struct {
	mu  sync.Mutex
	rng Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

type expCacheEntry struct {
	experiments []domain.PromptExperiment
	expires     time.Time
}

// Selector chooses which prompt variant serves a dealership's next AI
// turn. Selection is pure and read-only; any failure surfaces to the
// caller who falls back to the dealership's base template.
type Selector struct {
	db       *sql.DB
	rng      Rand
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]expCacheEntry
}

func NewSelector(db *sql.DB, rng Rand, cacheTTL time.Duration) *Selector {
	return &Selector{
		db:       db,
		rng:      &lockedRand{rng: rng},
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]expCacheEntry),
	}
}

// SelectVariant returns the variant to use for the dealership's next turn,
// or (nil, nil) when no variant applies and the caller should use the base
// template.
//
// With no active experiment the active control variant is returned, so
// repeated calls are deterministic. With active experiments, one is picked
// uniformly at random (an explicit, accepted nondeterminism when several
// run concurrently), then one of its still-active variants is picked by
// traffic allocation treated as relative weight.
func (s *Selector) SelectVariant(dealershipID string) (*domain.PromptVariant, error) {
	experiments, err := s.activeExperiments(dealershipID)
	if err != nil {
		return nil, fmt.Errorf("loading active experiments: %w", err)
	}

	if len(experiments) == 0 {
		control, err := sqlite.GetControlVariant(s.db, dealershipID)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading control variant: %w", err)
		}
		return &control, nil
	}

	exp := experiments[s.rng.Intn(len(experiments))]
	variants, weights, err := sqlite.GetActiveExperimentVariants(s.db, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("loading experiment variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("experiment %s has no active variants", exp.ID)
	}

	picked := pickWeighted(variants, weights, s.rng)
	return &picked, nil
}

// pickWeighted draws uniformly in [0, totalWeight) and walks the variants
// in fixed order accumulating weight; the first variant whose cumulative
// weight meets or exceeds the draw wins. Allocations need not sum to 100;
// they are relative weights. Floating-point edge cases fall back to the
// first variant so selection always yields one.
func pickWeighted(variants []domain.PromptVariant, weights []int, rng Rand) domain.PromptVariant {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return variants[0]
	}

	draw := rng.Float64() * float64(total)
	cumulative := 0.0
	for i, v := range variants {
		cumulative += float64(weights[i])
		if draw <= cumulative {
			return v
		}
	}
	return variants[0]
}

func (s *Selector) activeExperiments(dealershipID string) ([]domain.PromptExperiment, error) {
	now := s.now()

	if s.cacheTTL > 0 {
		s.mu.Lock()
		entry, ok := s.cache[dealershipID]
		s.mu.Unlock()
		if ok && now.Before(entry.expires) {
			return entry.experiments, nil
		}
	}

	experiments, err := sqlite.GetActiveExperiments(s.db, dealershipID, now)
	if err != nil {
		return nil, err
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[dealershipID] = expCacheEntry{experiments: experiments, expires: now.Add(s.cacheTTL)}
		s.mu.Unlock()
	}
	return experiments, nil
}

// Invalidate drops the cached experiment list for a dealership, used by
// authoring operations so experiment changes apply without waiting out the
// TTL.
func (s *Selector) Invalidate(dealershipID string) {
	s.mu.Lock()
	delete(s.cache, dealershipID)
	s.mu.Unlock()
}

// SelectOrNone wraps SelectVariant with the pipeline's failure semantics:
// selection errors are logged and reported as "no variant" so variant
// selection never blocks generating a customer-facing reply.
func (s *Selector) SelectOrNone(dealershipID string) *domain.PromptVariant {
	v, err := s.SelectVariant(dealershipID)
	if err != nil {
		log.Printf("abtest select dealership=%s fallback=base err=%v", dealershipID, err)
		return nil
	}
	return v
}
