// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"context"
	"sync"

	"github.com/distribfs/chunkserver/internal/core"
)

// fakeChunkManager is an in-memory ChunkManager for exercising the
// replication state machine without touching disk, in the style of
// peerclient.Fake.
type fakeChunkManager struct {
	mu                   sync.Mutex
	data                 map[core.ChunkID][]byte
	version              map[core.ChunkID]int
	replicating          map[core.ChunkID]bool
	replicationDoneCalls []core.Error

	failAlloc, failWrite, failCommit core.Error
}

func newFakeChunkManager() *fakeChunkManager {
	return &fakeChunkManager{
		data:        make(map[core.ChunkID][]byte),
		version:     make(map[core.ChunkID]int),
		replicating: make(map[core.ChunkID]bool),
	}
}

func (f *fakeChunkManager) AllocChunk(ctx context.Context, fileID core.FileID, chunkID core.ChunkID, isReplication bool) core.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlloc != core.NoError {
		return f.failAlloc
	}
	f.data[chunkID] = nil
	f.version[chunkID] = core.NeverUsedVersion
	f.replicating[chunkID] = true
	return core.NoError
}

func (f *fakeChunkManager) WriteChunk(ctx context.Context, chunkID core.ChunkID, offset int64, b []byte) core.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != core.NoError {
		return f.failWrite
	}
	buf := f.data[chunkID]
	if need := offset + int64(len(b)); int64(len(buf)) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], b)
	f.data[chunkID] = buf
	return core.NoError
}

func (f *fakeChunkManager) ChangeChunkVers(ctx context.Context, chunkID core.ChunkID, targetVersion int, stable bool) core.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit != core.NoError {
		return f.failCommit
	}
	f.version[chunkID] = targetVersion
	if stable {
		delete(f.replicating, chunkID)
	}
	return core.NoError
}

func (f *fakeChunkManager) StaleChunk(ctx context.Context, chunkID core.ChunkID, deleteOk bool) core.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.replicating, chunkID)
	if deleteOk {
		delete(f.data, chunkID)
	}
	return core.NoError
}

func (f *fakeChunkManager) GetChunkInfo(chunkID core.ChunkID) (core.ChunkInfo, core.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replicating[chunkID] {
		return core.ChunkInfo{}, core.ErrNoSuchChunk
	}
	data, ok := f.data[chunkID]
	if !ok {
		return core.ChunkInfo{}, core.ErrNoSuchChunk
	}
	return core.ChunkInfo{ChunkSize: int64(len(data)), ChunkVersion: f.version[chunkID]}, core.NoError
}

func (f *fakeChunkManager) ReplicationDone(chunkID core.ChunkID, status core.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replicationDoneCalls = append(f.replicationDoneCalls, status)
}

func (f *fakeChunkManager) numReplicationDoneCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replicationDoneCalls)
}
