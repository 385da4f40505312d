// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout     = 30 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxEntries      = 10000
)

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter is a token bucket per client IP.  At most maxEntries buckets
// are kept: the least recently used one is evicted to make room for a new
// client.  Idle buckets are dropped by a background cleanup until stop is
// called.
type rateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element // key -> element holding *limiterEntry
	lru        *list.List               // front is most recently used
	limit      rate.Limit
	burst      int
	maxEntries int
	evictions  int64

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	rl := &rateLimiter{
		limiters:    map[string]*list.Element{},
		lru:         list.New(),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		maxEntries:  limiterMaxEntries,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// allow reports whether a request from key may proceed.
func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if elem, ok := rl.limiters[key]; ok {
		rl.lru.MoveToFront(elem)
		e := elem.Value.(*limiterEntry)
		e.lastAccess = now
		return e.limiter.AllowN(now, 1)
	}
	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		rl.evictLRULocked()
	}
	e := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.limiters[key] = rl.lru.PushFront(e)
	return e.limiter.AllowN(now, 1)
}

// evictLRULocked drops the least recently used bucket.  rl.mu must be held.
func (rl *rateLimiter) evictLRULocked() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*limiterEntry)
	delete(rl.limiters, e.key)
	rl.lru.Remove(elem)
	rl.evictions++
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.cleanupLocked(time.Now(), limiterIdleTimeout)
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupLocked drops buckets idle for longer than maxIdle.  rl.mu must be
// held.
func (rl *rateLimiter) cleanupLocked(now time.Time, maxIdle time.Duration) int {
	var removed int
	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		e := elem.Value.(*limiterEntry)
		if now.Sub(e.lastAccess) > maxIdle {
			delete(rl.limiters, e.key)
			rl.lru.Remove(elem)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
