// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/distribfs/chunkserver/internal/core"
)

// Counters tracks the replication/recovery event counts named in the
// external interface, both in-process (for Counters.Snapshot) and as
// Prometheus counters scraped off /metrics, the way
// internal/tractserver/manager.go exposes its disk-queue gauges.
type Counters struct {
	replicatorCount          int64
	replicationCount         int64
	recoveryCount            int64
	replicationErrorCount    int64
	recoveryErrorCount       int64
	replicationCanceledCount int64
	recoveryCanceledCount    int64

	promOps *prometheus.CounterVec
}

// NewCounters registers the Prometheus vector and returns a ready Counters.
func NewCounters() *Counters {
	return &Counters{
		promOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkserver_replication_ops_total",
			Help: "Chunk replication/recovery operations by kind and result.",
		}, []string{"kind", "result"}),
	}
}

func (c *Counters) incReplicatorCount() {
	atomic.AddInt64(&c.replicatorCount, 1)
}

func (c *Counters) incStarted(isRecovery bool) {
	if isRecovery {
		atomic.AddInt64(&c.recoveryCount, 1)
		c.promOps.WithLabelValues("recovery", "started").Inc()
	} else {
		atomic.AddInt64(&c.replicationCount, 1)
		c.promOps.WithLabelValues("replication", "started").Inc()
	}
}

func (c *Counters) incError(isRecovery bool) {
	if isRecovery {
		atomic.AddInt64(&c.recoveryErrorCount, 1)
		c.promOps.WithLabelValues("recovery", "error").Inc()
	} else {
		atomic.AddInt64(&c.replicationErrorCount, 1)
		c.promOps.WithLabelValues("replication", "error").Inc()
	}
}

func (c *Counters) incCanceled(isRecovery bool) {
	if isRecovery {
		atomic.AddInt64(&c.recoveryCanceledCount, 1)
		c.promOps.WithLabelValues("recovery", "canceled").Inc()
	} else {
		atomic.AddInt64(&c.replicationCanceledCount, 1)
		c.promOps.WithLabelValues("replication", "canceled").Inc()
	}
}

// Snapshot returns the current counter values in the wire Counters shape.
func (c *Counters) Snapshot() core.Counters {
	return core.Counters{
		ReplicatorCount:          atomic.LoadInt64(&c.replicatorCount),
		ReplicationCount:         atomic.LoadInt64(&c.replicationCount),
		RecoveryCount:            atomic.LoadInt64(&c.recoveryCount),
		ReplicationErrorCount:    atomic.LoadInt64(&c.replicationErrorCount),
		RecoveryErrorCount:       atomic.LoadInt64(&c.recoveryErrorCount),
		ReplicationCanceledCount: atomic.LoadInt64(&c.replicationCanceledCount),
		RecoveryCanceledCount:    atomic.LoadInt64(&c.recoveryCanceledCount),
	}
}
