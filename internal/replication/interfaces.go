// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"context"

	"github.com/distribfs/chunkserver/internal/core"
)

// ChunkManager is the local chunk store the replication/recovery core drives
// to allocate, fill in, and commit chunks. Implemented by
// internal/chunkstore.Manager.
type ChunkManager interface {
	// AllocChunk creates a new, not-yet-visible chunk file for fileID/chunkID
	// with the never-used sentinel version, deleting any existing copy first
	// if isReplication is true.
	AllocChunk(ctx context.Context, fileID core.FileID, chunkID core.ChunkID, isReplication bool) core.Error

	// WriteChunk writes b at offset into the chunk, which must have been
	// allocated by AllocChunk and not yet committed.
	WriteChunk(ctx context.Context, chunkID core.ChunkID, offset int64, b []byte) core.Error

	// ChangeChunkVers commits the chunk by setting its version to
	// targetVersion. If stable, the chunk becomes visible to normal reads.
	ChangeChunkVers(ctx context.Context, chunkID core.ChunkID, targetVersion int, stable bool) core.Error

	// StaleChunk marks a chunk as no longer wanted, deleting it from disk if
	// deleteOk is true.
	StaleChunk(ctx context.Context, chunkID core.ChunkID, deleteOk bool) core.Error

	// GetChunkInfo returns the size and version of a chunk already visible in
	// the normal chunk table.
	GetChunkInfo(chunkID core.ChunkID) (core.ChunkInfo, core.Error)

	// ReplicationDone tells the ChunkManager that a replication/recovery
	// attempt for chunkID finished with the given status: on failure, any
	// partial chunk file is removed.
	ReplicationDone(chunkID core.ChunkID, status core.Error)
}

// PeerClient talks to another chunk server to pull chunk metadata and data
// during plain peer replication. Implemented by internal/peerclient.Client.
type PeerClient interface {
	// GetChunkMetadata asks loc for the size and version of chunkID.
	GetChunkMetadata(ctx context.Context, loc core.Location, chunkID core.ChunkID) (core.GetChunkMetadataReply, core.Error)

	// Read reads numBytes at offset from chunkID/version on loc. A short
	// read is only valid at end of chunk.
	Read(ctx context.Context, loc core.Location, chunkID core.ChunkID, version int, offset int64, numBytes int) ([]byte, core.Error)
}

// ResponseSink is how a completed (or canceled) ReplicateChunkOp is handed
// back to whatever submitted it -- normally the Dispatcher's meta-server
// client, but tests can supply a fake.
type ResponseSink interface {
	Respond(op *core.ReplicateChunkOp)
}

// ResponseSinkFunc adapts a plain function to a ResponseSink.
type ResponseSinkFunc func(op *core.ReplicateChunkOp)

// Respond calls f(op).
func (f ResponseSinkFunc) Respond(op *core.ReplicateChunkOp) { f(op) }
