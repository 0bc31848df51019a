// Package ratelimit tracks per-address connection counts and failed
// authentication attempts.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Limiter gates connections and login attempts by source address. The zero
// value is not usable; create one with New.
type Limiter struct {
	mu       sync.Mutex
	conns    map[string]int
	failures map[string][]time.Time

	maxConns int
	maxFails int
	window   time.Duration
}

// New returns a Limiter allowing maxConns concurrent connections per address
// and blocking an address once it has maxFails failures inside window.
// maxConns <= 0 disables the connection cap.
func New(maxConns, maxFails int, window time.Duration) *Limiter {
	return &Limiter{
		conns:    make(map[string]int),
		failures: make(map[string][]time.Time),
		maxConns: maxConns,
		maxFails: maxFails,
		window:   window,
	}
}

// AdmitConnection takes a connection slot for addr. Every successful call must
// be paired with Release.
func (l *Limiter) AdmitConnection(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.conns[addr] >= l.maxConns {
		return false
	}
	l.conns[addr]++
	return true
}

// Release returns a slot taken by AdmitConnection.
func (l *Limiter) Release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.conns[addr] - 1
	if n <= 0 {
		delete(l.conns, addr)
		return
	}
	l.conns[addr] = n
}

// Connections returns the number of slots held by addr.
func (l *Limiter) Connections(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[addr]
}

// RecordFailure notes a failed authentication attempt.
func (l *Limiter) RecordFailure(addr string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.prune(addr, now)
	i := sort.Search(len(list), func(i int) bool { return list[i].After(now) })
	list = append(list, time.Time{})
	copy(list[i+1:], list[i:])
	list[i] = now
	l.failures[addr] = list
}

// IsBlocked reports whether addr reached the failure limit within the window
// ending at now.
func (l *Limiter) IsBlocked(addr string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxFails <= 0 {
		return false
	}
	return len(l.prune(addr, now)) >= l.maxFails
}

// Reset forgets the failures of addr.
func (l *Limiter) Reset(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, addr)
}

// prune drops failures older than the window. The list is kept in time order
// by RecordFailure. Must be called with mu held.
func (l *Limiter) prune(addr string, now time.Time) []time.Time {
	list := l.failures[addr]
	cutoff := now.Add(-l.window)

	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}
	list = list[i:]

	if len(list) == 0 {
		delete(l.failures, addr)
		return nil
	}
	l.failures[addr] = list
	return list
}
