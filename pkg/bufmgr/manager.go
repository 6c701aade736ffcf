// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package bufmgr admits buffer requests against a shared byte budget. It has
// no teacher analogue, but follows the mutex-protected shared-accounting
// idiom of pkg/tokenbucket and the channel-based wait-for-a-slot pattern of
// internal/server.Semaphore: a fixed pool of bytes, a strict FIFO wait
// queue, and whole grants only, never partial ones.
package bufmgr

import (
	"sync"

	"github.com/distribfs/chunkserver/internal/core"
)

// Manager admits byte requests against a shared capacity.
type Manager struct {
	mu             sync.Mutex
	capacity       int64
	used           int64
	maxClientBytes int64
	queue          []*waitEntry
}

type waitEntry struct {
	bytes int64
	ready chan struct{}
}

// NewManager returns a Manager with the given total byte capacity. No single
// request may exceed maxClientBytes; such a request is rejected as
// core.ErrOverQuota rather than queued.
func NewManager(capacity, maxClientBytes int64) *Manager {
	return &Manager{capacity: capacity, maxClientBytes: maxClientBytes}
}

// NewClient returns a Client bound to this Manager. A Client has at most one
// outstanding Acquire at a time.
func (m *Manager) NewClient() *Client {
	return &Client{mgr: m}
}

// Capacity returns the total shared byte budget this Manager admits
// against.
func (m *Manager) Capacity() int64 {
	return m.capacity
}

// Client is one buffer-requesting party (one PeerReplicator or RSRecoverer
// job). Not safe for concurrent use by multiple goroutines, matching its
// one-job-at-a-time owner.
type Client struct {
	mgr     *Manager
	pending *waitEntry
}

// CheckQuota reports whether a request for bytes could ever be granted,
// without touching the shared budget.
func (c *Client) CheckQuota(bytes int64) bool {
	return bytes <= c.mgr.maxClientBytes
}

// Acquire requests bytes. If granted synchronously, it returns (true,
// core.NoError) and the caller may proceed immediately. If the request
// exceeds the per-client quota, it returns (false, core.ErrOverQuota) --
// fatal for the requesting operation, never queued. Otherwise it returns
// (false, core.NoError) and enqueues the request; the caller must select on
// Wait() to learn when it's been granted.
func (c *Client) Acquire(bytes int64) (granted bool, err core.Error) {
	if !c.CheckQuota(bytes) {
		return false, core.ErrOverQuota
	}

	m := c.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 && m.used+bytes <= m.capacity {
		m.used += bytes
		return true, core.NoError
	}

	w := &waitEntry{bytes: bytes, ready: make(chan struct{})}
	c.pending = w
	m.queue = append(m.queue, w)
	return false, core.NoError
}

// Wait returns the channel that closes once a queued Acquire is granted.
// Only valid to call after Acquire returned (false, core.NoError).
func (c *Client) Wait() <-chan struct{} {
	return c.pending.ready
}

// CancelWait revokes a pending Acquire, removing it from the FIFO queue. A
// no-op if nothing is pending (including if it was already granted).
func (c *Client) CancelWait() {
	m := c.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	w := c.pending
	if w == nil {
		return
	}
	c.pending = nil
	for i, e := range m.queue {
		if e == w {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
	// Already popped and granted concurrently with this cancel; the caller
	// owns those bytes now and must Release them itself.
}

// Release returns bytes to the shared budget, waking FIFO waiters whose
// request now fits. Grants are never partial: the queue only advances past
// its head once the head's full request can be satisfied.
func (c *Client) Release(bytes int64) {
	m := c.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= bytes
	m.grantLocked()
}

func (m *Manager) grantLocked() {
	for len(m.queue) > 0 {
		w := m.queue[0]
		if m.used+w.bytes > m.capacity {
			break
		}
		m.used += w.bytes
		m.queue = m.queue[1:]
		close(w.ready)
	}
}
