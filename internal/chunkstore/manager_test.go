// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package chunkstore

import (
	"context"
	"os"
	"testing"

	"github.com/distribfs/chunkserver/internal/core"
)

var bg = context.Background()

func newTestManager(t *testing.T) *Manager {
	dir, err := os.MkdirTemp("", "chunkstore")
	if err != nil {
		t.Fatalf("mkdirtemp: %s", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewManager(dir)
}

func TestAllocWriteCommit(t *testing.T) {
	m := newTestManager(t)
	const chunkID = core.ChunkID(1)

	if err := m.AllocChunk(bg, 1, chunkID, false); err != core.NoError {
		t.Fatalf("AllocChunk: %s", err)
	}

	// Not visible yet.
	if _, err := m.GetChunkInfo(chunkID); err != core.ErrNoSuchChunk {
		t.Fatalf("expected ErrNoSuchChunk pre-commit, got %s", err)
	}

	data := []byte("hello, chunk")
	if err := m.WriteChunk(bg, chunkID, 0, data); err != core.NoError {
		t.Fatalf("WriteChunk: %s", err)
	}

	if err := m.ChangeChunkVers(bg, chunkID, 5, true); err != core.NoError {
		t.Fatalf("ChangeChunkVers: %s", err)
	}

	info, err := m.GetChunkInfo(chunkID)
	if err != core.NoError {
		t.Fatalf("GetChunkInfo: %s", err)
	}
	if info.ChunkVersion != 5 {
		t.Errorf("version = %d, want 5", info.ChunkVersion)
	}
	if info.ChunkSize != int64(len(data)) {
		t.Errorf("size = %d, want %d", info.ChunkSize, len(data))
	}

	got, err := m.ReadChunk(bg, chunkID, 0, len(data))
	if err != core.NoError {
		t.Fatalf("ReadChunk: %s", err)
	}
	if string(got) != string(data) {
		t.Errorf("read %q, want %q", got, data)
	}
}

func TestAllocReplicationClobbersStale(t *testing.T) {
	m := newTestManager(t)
	const chunkID = core.ChunkID(2)

	if err := m.AllocChunk(bg, 1, chunkID, false); err != core.NoError {
		t.Fatalf("AllocChunk: %s", err)
	}
	m.WriteChunk(bg, chunkID, 0, []byte("old"))
	m.ChangeChunkVers(bg, chunkID, 1, true)

	// A replication for the same chunk ID should delete the old file and
	// start over, hiding it from GetChunkInfo again.
	if err := m.AllocChunk(bg, 1, chunkID, true); err != core.NoError {
		t.Fatalf("AllocChunk (replication): %s", err)
	}
	if _, err := m.GetChunkInfo(chunkID); err != core.ErrNoSuchChunk {
		t.Fatalf("expected ErrNoSuchChunk while replicating, got %s", err)
	}
}

func TestReplicationDoneFailureRemovesPartialChunk(t *testing.T) {
	m := newTestManager(t)
	const chunkID = core.ChunkID(3)

	if err := m.AllocChunk(bg, 1, chunkID, false); err != core.NoError {
		t.Fatalf("AllocChunk: %s", err)
	}
	m.WriteChunk(bg, chunkID, 0, []byte("partial"))

	m.ReplicationDone(chunkID, core.ErrIO)

	if _, statErr := os.Stat(m.path(chunkID)); !os.IsNotExist(statErr) {
		t.Errorf("expected partial chunk file to be removed, stat err = %v", statErr)
	}
}

func TestStaleChunkDeletes(t *testing.T) {
	m := newTestManager(t)
	const chunkID = core.ChunkID(4)

	m.AllocChunk(bg, 1, chunkID, false)
	m.WriteChunk(bg, chunkID, 0, []byte("x"))
	m.ChangeChunkVers(bg, chunkID, 1, true)

	if err := m.StaleChunk(bg, chunkID, true); err != core.NoError {
		t.Fatalf("StaleChunk: %s", err)
	}
	if _, err := m.GetChunkInfo(chunkID); err != core.ErrNoSuchChunk {
		t.Fatalf("expected ErrNoSuchChunk after StaleChunk, got %s", err)
	}
}

func TestNewManagerDeletesNeverUsedChunksOnStartup(t *testing.T) {
	dir, err := os.MkdirTemp("", "chunkstore")
	if err != nil {
		t.Fatalf("mkdirtemp: %s", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	// Simulate a crash mid-replication: chunk 5 is allocated and written but
	// never committed with ChangeChunkVers, so it's left at NeverUsedVersion.
	const orphan = core.ChunkID(5)
	const committed = core.ChunkID(6)
	{
		m := &Manager{rootDir: dir, busy: map[core.ChunkID]int32{}, replicating: map[core.ChunkID]bool{}}
		m.cond.L = &m.mu
		if err := m.AllocChunk(bg, 1, orphan, false); err != core.NoError {
			t.Fatalf("AllocChunk(orphan): %s", err)
		}
		m.WriteChunk(bg, orphan, 0, []byte("partial"))

		if err := m.AllocChunk(bg, 1, committed, false); err != core.NoError {
			t.Fatalf("AllocChunk(committed): %s", err)
		}
		m.WriteChunk(bg, committed, 0, []byte("whole"))
		if err := m.ChangeChunkVers(bg, committed, 1, true); err != core.NoError {
			t.Fatalf("ChangeChunkVers: %s", err)
		}
	}

	m := NewManager(dir)

	if _, statErr := os.Stat(m.path(orphan)); !os.IsNotExist(statErr) {
		t.Errorf("expected never-used chunk to be deleted on startup, stat err = %v", statErr)
	}
	if _, err := m.GetChunkInfo(committed); err != core.NoError {
		t.Errorf("expected committed chunk to survive startup cleanup, got %s", err)
	}
}
