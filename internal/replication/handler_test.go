// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"testing"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/internal/metaclient"
	"github.com/distribfs/chunkserver/internal/peerclient"
	"github.com/distribfs/chunkserver/pkg/bufmgr"
)

func TestHandlerReplicateChunkRunsToCompletion(t *testing.T) {
	resetMetrics(t)
	cm := newFakeChunkManager()
	peer := peerclient.NewFake()
	peer.Put(core.ChunkID(1), 3, make([]byte, 10))

	d := NewDispatcher(cm, peer, metaclient.Get(), bufmgr.NewManager(64<<20, 16<<20), NewRegistry(), NewCounters(), DefaultConfig())
	h := NewHandler(d)

	req := core.ReplicateChunkOp{
		FileID:       core.FileID(1),
		ChunkID:      core.ChunkID(1),
		ChunkVersion: 3,
		Location:     core.Location{Host: "peer", Port: 1},
	}
	var reply core.ReplicateChunkOp
	if err := h.ReplicateChunk(req, &reply); err != nil {
		t.Fatalf("ReplicateChunk: %s", err)
	}
	if reply.Status != 0 || reply.ChunkVersion != 3 {
		t.Fatalf("reply = %+v, want status=0 version=3", reply)
	}
}

func TestHandlerReplicateChunkRejectsWhenOverCapacity(t *testing.T) {
	resetMetrics(t)
	cm := newFakeChunkManager()
	peer := peerclient.NewFake()

	cfg := DefaultConfig()
	cfg.RejectReqThreshold = 0
	d := NewDispatcher(cm, peer, metaclient.Get(), bufmgr.NewManager(64<<20, 16<<20), NewRegistry(), NewCounters(), cfg)
	h := NewHandler(d)

	req := core.ReplicateChunkOp{FileID: 1, ChunkID: core.ChunkID(2), ChunkVersion: 1, Location: core.Location{Host: "peer", Port: 1}}
	var reply core.ReplicateChunkOp
	if err := h.ReplicateChunk(req, &reply); err != nil {
		t.Fatalf("ReplicateChunk: %s", err)
	}
	if reply.Status == 0 {
		t.Fatalf("expected a too-busy rejection with a zero-capacity semaphore")
	}
}
