// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package peerclient

import (
	"context"
	"sync"

	"github.com/distribfs/chunkserver/internal/core"
)

// Fake is an in-memory implementation of replication.PeerClient for tests.
// It serves reads out of a byte slice registered per chunk, and can be
// told to fail specific chunks outright.
type Fake struct {
	mu    sync.Mutex
	data  map[core.ChunkID][]byte
	vers  map[core.ChunkID]int
	fail  map[core.ChunkID]core.Error
	calls []core.ReadReq
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		data: make(map[core.ChunkID][]byte),
		vers: make(map[core.ChunkID]int),
		fail: make(map[core.ChunkID]core.Error),
	}
}

// Put registers chunkID as having the given version and content.
func (f *Fake) Put(chunkID core.ChunkID, version int, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[chunkID] = content
	f.vers[chunkID] = version
}

// Fail makes every request for chunkID return err.
func (f *Fake) Fail(chunkID core.ChunkID, err core.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[chunkID] = err
}

// GetChunkMetadata implements replication.PeerClient.
func (f *Fake) GetChunkMetadata(ctx context.Context, loc core.Location, chunkID core.ChunkID) (core.GetChunkMetadataReply, core.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[chunkID]; ok {
		return core.GetChunkMetadataReply{}, err
	}
	content, ok := f.data[chunkID]
	if !ok {
		return core.GetChunkMetadataReply{}, core.ErrNoSuchChunk
	}
	return core.GetChunkMetadataReply{
		ChunkSize:    int64(len(content)),
		ChunkVersion: f.vers[chunkID],
	}, core.NoError
}

// Read implements replication.PeerClient.
func (f *Fake) Read(ctx context.Context, loc core.Location, chunkID core.ChunkID, version int, offset int64, numBytes int) ([]byte, core.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, core.ReadReq{ChunkID: chunkID, Version: version, Offset: offset, NumBytes: numBytes})

	if err, ok := f.fail[chunkID]; ok {
		return nil, err
	}
	content, ok := f.data[chunkID]
	if !ok {
		return nil, core.ErrNoSuchChunk
	}
	if version != f.vers[chunkID] {
		return nil, core.ErrInvalidArgument
	}
	if offset >= int64(len(content)) {
		return nil, core.NoError
	}
	end := offset + int64(numBytes)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	out := make([]byte, end-offset)
	copy(out, content[offset:end])
	if len(out) < numBytes {
		return out, core.ErrEOF
	}
	return out, core.NoError
}

// Calls returns the Read requests observed so far.
func (f *Fake) Calls() []core.ReadReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.ReadReq, len(f.calls))
	copy(out, f.calls)
	return out
}
