// Package ratelimit tracks request, token, concurrency and daily-cost budgets
// for calls to the embedding provider. All four ceilings must pass for a
// permit to be granted. The limiter never sleeps; callers retry after backoff
// when denied.
package ratelimit

import (
	"sync"
	"time"
)

// Op distinguishes rate-limited operation kinds.
type Op string

const (
	OpEmbedImage Op = "embed_image"
	OpEmbedText  Op = "embed_text"
)

const window = 60 * time.Second

// Config holds the four ceilings plus the per-model price table.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	MaxConcurrent     int
	DailyCostUSD      float64

	// USD per 1M tokens for the model used. Cost accrues as tokens * price.
	PricePerMTokUSD float64
}

// DefaultConfig mirrors entry-tier provider quotas.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 500,
		TokensPerMinute:   350_000,
		MaxConcurrent:     8,
		DailyCostUSD:      5.0,
		PricePerMTokUSD:   0.02,
	}
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

// Limiter is shared mutable state across all ingestion workers; every method
// takes the one mutex and does only fast bookkeeping under it.
type Limiter struct {
	cfg Config

	// now is swappable for tests.
	now func() time.Time

	mu       sync.Mutex
	requests []time.Time
	tokens   []*tokenEntry
	inFlight int
	dayCost  float64
	day      time.Time // midnight of the day dayCost covers
}

func New(cfg Config) *Limiter {
	return NewWithClock(cfg, time.Now)
}

func NewWithClock(cfg Config, now func() time.Time) *Limiter {
	l := &Limiter{cfg: cfg, now: now}
	l.day = dayOf(now())
	return l
}

// Permit is a granted allowance for one provider call. Release it exactly
// once on every exit path; releasing with the actual token usage corrects the
// books from the estimate used at acquisition time.
type Permit struct {
	l        *Limiter
	op       Op
	est      int
	entry    *tokenEntry
	released bool
}

// Acquire checks all four ceilings and either grants a permit or denies.
// Non-blocking and advisory: a denial means "not now", the caller backs off.
func (l *Limiter) Acquire(op Op, estTokens int) (*Permit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollLocked(now)

	if len(l.requests) >= l.cfg.RequestsPerMinute {
		return nil, false
	}
	if l.inFlight >= l.cfg.MaxConcurrent {
		return nil, false
	}
	if estTokens > 0 {
		if l.windowTokensLocked()+estTokens > l.cfg.TokensPerMinute {
			return nil, false
		}
		if l.dayCost+l.costOf(estTokens) > l.cfg.DailyCostUSD {
			return nil, false
		}
	}

	l.requests = append(l.requests, now)
	entry := &tokenEntry{at: now, tokens: estTokens}
	l.tokens = append(l.tokens, entry)
	l.inFlight++
	l.dayCost += l.costOf(estTokens)

	return &Permit{l: l, op: op, est: estTokens, entry: entry}, true
}

// Release returns the permit and replaces the estimated token usage with the
// actual usage reported by the provider. Safe to call more than once; only
// the first call counts.
func (p *Permit) Release(actualTokens int) {
	if p == nil {
		return
	}
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.released {
		return
	}
	p.released = true

	l.inFlight--
	if actualTokens < 0 {
		actualTokens = p.est
	}
	p.entry.tokens = actualTokens
	l.dayCost += l.costOf(actualTokens) - l.costOf(p.est)
	if l.dayCost < 0 {
		l.dayCost = 0
	}
}

// Dimension is one ceiling's view in a status snapshot.
type Dimension struct {
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Percent float64 `json:"percent"`
}

// Status is a point-in-time, read-only view of all four ceilings.
type Status struct {
	Requests    Dimension `json:"requests_per_minute"`
	Tokens      Dimension `json:"tokens_per_minute"`
	Concurrency Dimension `json:"concurrent"`
	DailyCost   Dimension `json:"daily_cost_usd"`
}

// GetStatus reports current/limit/percent per dimension. It prunes nothing
// and mutates nothing; expired window entries are simply not counted.
func (l *Limiter) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	reqs := 0
	for _, t := range l.requests {
		if t.After(cutoff) {
			reqs++
		}
	}
	toks := 0
	for _, e := range l.tokens {
		if e.at.After(cutoff) {
			toks += e.tokens
		}
	}
	cost := l.dayCost
	if !dayOf(now).Equal(l.day) {
		cost = 0
	}

	return Status{
		Requests:    dim(float64(reqs), float64(l.cfg.RequestsPerMinute)),
		Tokens:      dim(float64(toks), float64(l.cfg.TokensPerMinute)),
		Concurrency: dim(float64(l.inFlight), float64(l.cfg.MaxConcurrent)),
		DailyCost:   dim(cost, l.cfg.DailyCostUSD),
	}
}

// InFlight reports the current concurrency count.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// rollLocked evicts window entries older than 60s and resets the daily cost
// on a calendar-day boundary.
func (l *Limiter) rollLocked(now time.Time) {
	cutoff := now.Add(-window)

	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.tokens) && !l.tokens[j].at.After(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]

	if d := dayOf(now); !d.Equal(l.day) {
		l.day = d
		l.dayCost = 0
	}
}

func (l *Limiter) windowTokensLocked() int {
	sum := 0
	for _, e := range l.tokens {
		sum += e.tokens
	}
	return sum
}

func (l *Limiter) costOf(tokens int) float64 {
	return float64(tokens) * l.cfg.PricePerMTokUSD / 1_000_000
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dim(current, limit float64) Dimension {
	d := Dimension{Current: current, Limit: limit}
	if limit > 0 {
		d.Percent = 100 * current / limit
	}
	return d
}
