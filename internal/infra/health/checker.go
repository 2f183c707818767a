package health

import (
	"context"
	"sync"
	"time"

	"relief/model"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

type result struct {
	err error
	at  time.Time
}

// Checker runs named probes and caches each result for ttl so that frequent
// health polling does not hammer the dependencies.
type Checker struct {
	ttl        time.Duration
	names      []string
	probes     map[string]Probe
	cache      map[string]result
	checkMutex sync.Mutex
	now        func() time.Time
}

func NewChecker(ttl time.Duration) *Checker {
	return &Checker{
		ttl:    ttl,
		probes: make(map[string]Probe),
		cache:  make(map[string]result),
		now:    time.Now,
	}
}

func (c *Checker) Register(name string, probe Probe) {
	c.checkMutex.Lock()
	defer c.checkMutex.Unlock()

	if _, exists := c.probes[name]; !exists {
		c.names = append(c.names, name)
	}
	c.probes[name] = probe
	delete(c.cache, name)
}

func (c *Checker) Check(ctx context.Context) model.HealthResponse {
	c.checkMutex.Lock()
	defer c.checkMutex.Unlock()

	resp := model.HealthResponse{Status: StatusOK, Checks: make(map[string]string, len(c.names))}
	now := c.now()

	for _, name := range c.names {
		r, ok := c.cache[name]
		if !ok || now.Sub(r.at) >= c.ttl {
			r = result{err: c.probes[name](ctx), at: now}
			c.cache[name] = r
		}

		if r.err != nil {
			resp.Status = StatusDegraded
			resp.Checks[name] = r.err.Error()
			continue
		}
		resp.Checks[name] = StatusOK
	}
	return resp
}
