// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"sync"
	"sync/atomic"

	"github.com/distribfs/chunkserver/internal/core"
)

// Registry is the process-wide index of in-flight replications, keyed by
// chunk id. At most one Job may be registered for a given chunk id at a
// time; a second registration for the same id supersedes the first.
type Registry struct {
	mu      sync.Mutex
	entries map[core.ChunkID]*Job
	inFlight int64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[core.ChunkID]*Job)}
}

// Register inserts j under chunkID. If another job is already registered
// for chunkID, that incumbent is superseded (canceled, with no
// ReplicationDone call) and this call blocks until it has fully terminated,
// then installs j in its place. Returns false only in the degenerate case
// where j was already the registered incumbent for chunkID -- a caller bug,
// since a fresh Job is never registered twice.
func (r *Registry) Register(chunkID core.ChunkID, j *Job) bool {
	r.mu.Lock()
	incumbent, ok := r.entries[chunkID]
	if ok && incumbent == j {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if ok {
		incumbent.supersede()
		<-incumbent.Done()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[chunkID]; ok && cur != incumbent {
		// Someone else raced in while we waited on the incumbent's
		// shutdown. The registry is meant to be driven single-threaded
		// per chunk id by the Dispatcher, so this shouldn't happen; be
		// defensive and supersede it too.
		cur.supersede()
		<-cur.Done()
	}
	// A superseded job never unregisters itself, so its slot is reused
	// here rather than counted a second time.
	if _, exists := r.entries[chunkID]; !exists {
		atomic.AddInt64(&r.inFlight, 1)
	}
	r.entries[chunkID] = j
	return true
}

// Unregister removes j from the registry if it is still the entry for
// chunkID. A no-op if j was already superseded and replaced.
func (r *Registry) Unregister(chunkID core.ChunkID, j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[chunkID]; ok && cur == j {
		delete(r.entries, chunkID)
		if atomic.AddInt64(&r.inFlight, -1) < 0 {
			atomic.StoreInt64(&r.inFlight, 0)
		}
	}
}

// NumReplications returns the number of jobs currently registered.
func (r *Registry) NumReplications() int {
	return int(atomic.LoadInt64(&r.inFlight))
}

// CancelAll cancels every registered job. It does not wait for them to
// terminate.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.entries))
	for _, j := range r.entries {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
}
