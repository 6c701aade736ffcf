// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"context"
	"fmt"

	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/internal/metaclient"
	"github.com/distribfs/chunkserver/internal/server"
	"github.com/distribfs/chunkserver/pkg/bufmgr"
)

// Dispatcher is the entry point a chunk server's RPC handler calls into: it
// validates a ReplicateChunkOp, picks the peer-replication or RS-recovery
// variant, and launches it on its own goroutine.
type Dispatcher struct {
	cm       ChunkManager
	peer     PeerClient
	meta     *metaclient.Client
	bufMgr   *bufmgr.Manager
	registry *Registry
	counters *Counters
	cfg      Config

	// sem bounds how many jobs run at once; beyond it ops are rejected
	// rather than queued, the same RejectReqThreshold idiom the RPC
	// handlers use to shed load under a pending-request storm.
	sem server.Semaphore
	opm *server.OpMetric
}

// NewDispatcher wires a Dispatcher to its collaborators. meta is the
// process-wide RS meta-server client singleton (metaclient.Get()).
func NewDispatcher(cm ChunkManager, peer PeerClient, meta *metaclient.Client, bufMgr *bufmgr.Manager, registry *Registry, counters *Counters, cfg Config) *Dispatcher {
	return &Dispatcher{
		cm: cm, peer: peer, meta: meta, bufMgr: bufMgr, registry: registry, counters: counters, cfg: cfg,
		sem: server.NewSemaphore(cfg.RejectReqThreshold),
		opm: server.NewOpMetric("chunkserver_replication_dispatch", "kind"),
	}
}

// Run validates and launches op, returning once the job has been started
// (not once it has finished). sink receives the op back, exactly once, when
// the job terminates.
func (d *Dispatcher) Run(ctx context.Context, op *core.ReplicateChunkOp, sink ResponseSink) {
	kind := "replicate"
	if op.IsRecovery() {
		kind = "recover"
	}

	if !d.sem.TryAcquire() {
		lm := d.opm.Start(kind)
		lm.TooBusy()
		lm.End()
		log.Errorf("dispatcher: too busy, rejecting op for chunk %s", op.ChunkID)
		op.Status = core.StatusFailed
		op.ChunkVersion = -1
		sink.Respond(op)
		return
	}

	lm := d.opm.Start(kind)
	wrapped := ResponseSinkFunc(func(op *core.ReplicateChunkOp) {
		defer d.sem.Release()
		status := op.Status
		berr := core.NoError
		if status != 0 {
			berr = core.ErrIO
		}
		lm.EndWithError(&berr)
		sink.Respond(op)
	})

	if op.IsRecovery() {
		d.runRecovery(ctx, op, wrapped)
		return
	}
	d.runReplication(ctx, op, wrapped)
}

func (d *Dispatcher) runReplication(ctx context.Context, op *core.ReplicateChunkOp, sink ResponseSink) {
	r := NewPeerReplicator(op, d.cm, d.peer, d.bufMgr, d.registry, sink, d.counters)
	go r.Run(ctx)
}

func (d *Dispatcher) runRecovery(ctx context.Context, op *core.ReplicateChunkOp, sink ResponseSink) {
	if err := ValidateRSGeometry(op); err != core.NoError {
		log.Errorf("dispatcher: rejecting recovery op for chunk %s: invalid RS geometry", op.ChunkID)
		d.counters.incReplicatorCount()
		d.counters.incStarted(true)
		d.counters.incError(true)
		op.Status = core.StatusInvalid
		op.ChunkVersion = -1
		sink.Respond(op)
		return
	}

	d.meta.Reconfigure(fmt.Sprintf("%s:%d", op.MetaServerLocation.Host, op.MetaServerLocation.Port))

	r := NewRSRecoverer(op, d.cm, d.meta, d.peer, d.bufMgr, d.registry, sink, d.counters, d.cfg)
	go r.Run(ctx)
}
