/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ratelimiter bounds how often a given source address may submit
// handshake-related packets, so the cookie engine only has to speak to
// addresses that haven't already exceeded their budget.
package ratelimiter

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	packetsPerSecond   = 20
	packetsBurstable   = 5
	garbageCollectTime = time.Second
)

type entry struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Ratelimiter enforces a per-source-address token bucket, evicting idle
// entries in the background so long-lived devices don't accumulate state
// for addresses that stopped talking to them.
type Ratelimiter struct {
	mu       sync.RWMutex
	timeNow  func() time.Time
	stopOnce sync.Once
	done     chan struct{}
	table    map[netip.Addr]*entry
}

// Init (re)starts the limiter, discarding any existing table.
func (r *Ratelimiter) Init() {
	r.mu.Lock()
	if r.timeNow == nil {
		r.timeNow = time.Now
	}
	r.table = make(map[netip.Addr]*entry)
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.collectGarbage(done)
}

// Close stops the background eviction goroutine.
func (r *Ratelimiter) Close() {
	r.stopOnce.Do(func() {
		r.mu.RLock()
		done := r.done
		r.mu.RUnlock()
		if done != nil {
			close(done)
		}
	})
}

func (r *Ratelimiter) collectGarbage(done chan struct{}) {
	ticker := time.NewTicker(garbageCollectTime)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *Ratelimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.timeNow()
	for addr, e := range r.table {
		e.mu.Lock()
		stale := now.Sub(e.lastSeen) > garbageCollectTime
		e.mu.Unlock()
		if stale {
			delete(r.table, addr)
		}
	}
}

// Allow reports whether a packet from ip may proceed under the current
// budget, creating a fresh full bucket for addresses seen for the first
// time.
func (r *Ratelimiter) Allow(ip netip.Addr) bool {
	r.mu.RLock()
	e, ok := r.table[ip]
	r.mu.RUnlock()

	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(packetsPerSecond), packetsBurstable)}
		r.mu.Lock()
		if existing, raced := r.table[ip]; raced {
			e = existing
		} else {
			r.table[ip] = e
		}
		r.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = r.timeNow()
	return e.limiter.Allow()
}
