// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"context"

	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
)

// Handler is the net/rpc-registered entry point for ReplicateChunkOp
// requests, in the style of internal/tractserver's TSSrvHandler/TSCtlHandler:
// a thin RPC-shaped wrapper that owns nothing but logging, delegating all
// admission control and bookkeeping to the Dispatcher it wraps.
type Handler struct {
	d *Dispatcher
}

// NewHandler wraps d for RPC registration, e.g.
// rpc.RegisterName("ChunkServer", NewHandler(d)).
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{d: d}
}

// ReplicateChunk runs req to completion and writes the final op back into
// reply. The call blocks until the Dispatcher resolves it (accepted, then
// admitted or rejected, then run to Done/Failed/Canceled); there is exactly
// one completion reply per request, matching the RPC semantics of the rest
// of this corpus's handlers.
func (h *Handler) ReplicateChunk(req core.ReplicateChunkOp, reply *core.ReplicateChunkOp) error {
	op := req
	done := make(chan struct{})
	sink := ResponseSinkFunc(func(o *core.ReplicateChunkOp) {
		*reply = *o
		close(done)
	})

	log.Infof("ReplicateChunk: chunk %s version %d recovery=%v", op.ChunkID, op.ChunkVersion, op.IsRecovery())
	h.d.Run(context.Background(), &op, sink)
	<-done

	return nil
}
