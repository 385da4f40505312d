// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/cap-signin/oidc"
	"github.com/hashicorp/go-hclog"
)

// StateCache holds the oidc.State of every pending sign-in attempt, keyed by
// the state's ID.  It implements callback.StateReader and is concurrently
// safe.  It holds at most maxStates attempts.  Expired states are evicted by
// a background sweep until Close is called.
type StateCache struct {
	mu        sync.Mutex
	states    map[string]oidc.State
	maxStates int
	logger    hclog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStateCache creates a StateCache and starts its background sweep.
//
// Supported options: WithSweepInterval, WithMaxStates, WithLogger
func NewStateCache(opt ...Option) *StateCache {
	opts := getCacheOpts(opt...)
	c := &StateCache{
		states:    map[string]oidc.State{},
		maxStates: opts.withMaxStates,
		logger:    opts.withLogger,
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepEvery(opts.withSweepInterval)
	return c
}

// Add stores the state of a new sign-in attempt.  When the cache is full
// expired states are evicted first; if it's still full ErrFull is returned.
func (c *StateCache) Add(s oidc.State) error {
	const op = "StateCache.Add"
	if s == nil {
		return fmt.Errorf("%s: state is nil: %w", op, ErrInvalidParameter)
	}
	if s.ID() == "" {
		return fmt.Errorf("%s: state id is empty: %w", op, ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[s.ID()]; !ok && len(c.states) >= c.maxStates {
		if n := c.sweepLocked(); n > 0 {
			c.logger.Debug("evicted expired states", "count", n)
		}
		if len(c.states) >= c.maxStates {
			return fmt.Errorf("%s: %d pending states: %w", op, len(c.states), ErrFull)
		}
	}
	c.states[s.ID()] = s
	return nil
}

// Read returns the state for stateID.  Unknown states are reported with
// oidc.ErrNotFound and expired ones with oidc.ErrExpiredState; an expired
// state is deleted before returning.
func (c *StateCache) Read(ctx context.Context, stateID string) (oidc.State, error) {
	const op = "StateCache.Read"
	return c.lookup(ctx, op, stateID, false)
}

// Take is Read, except the state is removed as it's returned so a sign-in
// attempt can only be completed once, even by concurrent callbacks.
func (c *StateCache) Take(ctx context.Context, stateID string) (oidc.State, error) {
	const op = "StateCache.Take"
	return c.lookup(ctx, op, stateID, true)
}

func (c *StateCache) lookup(ctx context.Context, op, stateID string, remove bool) (oidc.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[stateID]
	if !ok {
		return nil, fmt.Errorf("%s: state %s not found: %w", op, stateID, oidc.ErrNotFound)
	}
	if s.IsExpired() {
		delete(c.states, stateID)
		return nil, fmt.Errorf("%s: state %s: %w", op, stateID, oidc.ErrExpiredState)
	}
	if remove {
		delete(c.states, stateID)
	}
	return s, nil
}

// Delete removes the state for stateID.  It's a no-op for unknown states.
func (c *StateCache) Delete(stateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, stateID)
}

// Len returns the number of states held, expired or not.
func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Close stops the background sweep.  It's safe to call more than once.
func (c *StateCache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *StateCache) sweepEvery(d time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("evicted expired states", "count", n)
			}
		}
	}
}

// sweep evicts expired states and returns how many were removed.
func (c *StateCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// sweepLocked is sweep with c.mu held.
func (c *StateCache) sweepLocked() int {
	var n int
	for id, s := range c.states {
		if s.IsExpired() {
			delete(c.states, id)
			n++
		}
	}
	return n
}
