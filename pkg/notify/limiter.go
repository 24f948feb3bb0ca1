package notify

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool rate-limits deliveries per recipient so a burst of hot
// threads cannot flood one user's devices.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(user string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[user]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 1
	}
	burst := p.burst
	if burst <= 0 {
		burst = 3
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[user] = l
	return l
}

func (p *limiterPool) Allow(user string) bool {
	return p.get(user).Allow()
}
