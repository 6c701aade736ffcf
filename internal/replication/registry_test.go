// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"testing"
	"time"

	"github.com/distribfs/chunkserver/internal/core"
)

func TestRegistryAtMostOneEntryPerChunk(t *testing.T) {
	r := NewRegistry()
	chunkID := core.ChunkID(1)

	j1 := newJob()
	if !r.Register(chunkID, j1) {
		t.Fatalf("first Register should succeed")
	}
	if r.NumReplications() != 1 {
		t.Fatalf("NumReplications = %d, want 1", r.NumReplications())
	}

	done := make(chan struct{})
	go func() {
		<-j1.CancelChan()
		close(j1.doneCh)
		close(done)
	}()

	j2 := newJob()
	if !r.Register(chunkID, j2) {
		t.Fatalf("second Register should succeed by superseding the first")
	}
	<-done

	if !j1.Superseded() {
		t.Fatalf("incumbent should have been superseded")
	}
	if r.NumReplications() != 1 {
		t.Fatalf("NumReplications after supersession = %d, want 1", r.NumReplications())
	}

	r.Unregister(chunkID, j2)
	if r.NumReplications() != 0 {
		t.Fatalf("NumReplications after Unregister = %d, want 0", r.NumReplications())
	}
}

func TestRegistryUnregisterStaleEntryIsNoop(t *testing.T) {
	r := NewRegistry()
	chunkID := core.ChunkID(7)
	j1 := newJob()
	r.Register(chunkID, j1)
	close(j1.doneCh)

	j2 := newJob()
	r.Register(chunkID, j2)

	// Unregistering the superseded j1 must not remove j2's entry.
	r.Unregister(chunkID, j1)
	if r.NumReplications() != 1 {
		t.Fatalf("NumReplications = %d, want 1 (j2 still registered)", r.NumReplications())
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	j1 := newJob()
	j2 := newJob()
	r.Register(core.ChunkID(1), j1)
	r.Register(core.ChunkID(2), j2)

	r.CancelAll()

	select {
	case <-j1.CancelChan():
	case <-time.After(time.Second):
		t.Fatalf("j1 was not canceled")
	}
	select {
	case <-j2.CancelChan():
	case <-time.After(time.Second):
		t.Fatalf("j2 was not canceled")
	}
}
