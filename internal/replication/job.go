// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import "sync"

// Job is the shared lifecycle handle embedded in PeerReplicator and
// RSRecoverer. A Job's single goroutine is its own event loop: since each
// job already runs on one dedicated goroutine, run-to-completion between
// suspension points falls out of ordinary sequential Go code rather than
// needing an explicit callback/message-pump state machine. Cancel and
// supersede are the only two things that may reach into a Job from outside
// its own goroutine, so they're the only state guarded by the mutex.
type Job struct {
	mu         sync.Mutex
	canceled   bool
	superseded bool
	cancelCh   chan struct{}
	doneCh     chan struct{}
}

func newJob() *Job {
	return &Job{
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (j *Job) cancelLocked(superseded bool) {
	if j.canceled {
		return
	}
	j.canceled = true
	j.superseded = superseded
	close(j.cancelCh)
}

// Cancel requests termination, e.g. from Registry.CancelAll or a server
// shutdown. Idempotent.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelLocked(false)
}

// supersede cancels the job because a newer op for the same chunk replaced
// it in the Registry. Distinct from Cancel so the job's termination path
// skips ReplicationDone and the counter bump (the superseding job owns the
// chunk now).
func (j *Job) supersede() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelLocked(true)
}

// Canceled reports whether Cancel or supersede has been called.
func (j *Job) Canceled() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

// Superseded reports whether this job was specifically canceled by
// supersession rather than an external cancel.
func (j *Job) Superseded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.superseded
}

// CancelChan is closed the moment Cancel or supersede is called; select on
// it alongside a context or a bufmgr.Client.Wait() channel at a suspension
// point.
func (j *Job) CancelChan() <-chan struct{} {
	return j.cancelCh
}

// Done is closed when the job's Run goroutine has returned.
func (j *Job) Done() <-chan struct{} {
	return j.doneCh
}
