// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/internal/rsreader"
	"github.com/distribfs/chunkserver/pkg/bufmgr"
	"github.com/distribfs/chunkserver/pkg/retry"
)

// ValidateRSGeometry applies the Dispatcher-level checks for a recovery op,
// ahead of ever constructing an RSRecoverer. A failure here is reported
// directly as -EINVAL without ever entering the state machine or touching
// the registry.
func ValidateRSGeometry(op *core.ReplicateChunkOp) core.Error {
	if op.ChunkOffset%core.ChunkSize != 0 {
		return core.ErrInvalidArgument
	}
	if op.StriperType != core.StriperTypeRS {
		return core.ErrInvalidArgument
	}
	if op.NumStripes <= 0 || op.NumRecoveryStripes <= 0 {
		return core.ErrInvalidArgument
	}
	if op.StripeSize < core.MinStripeSize || op.StripeSize > core.MaxStripeSize {
		return core.ErrInvalidArgument
	}
	if core.ChunkSize%op.StripeSize != 0 {
		return core.ErrInvalidArgument
	}
	if op.StripeSize%core.StripeAlignment != 0 {
		return core.ErrInvalidArgument
	}
	if op.MetaServerLocation.Port <= 0 {
		return core.ErrInvalidArgument
	}
	return core.NoError
}

// NewRSRecoverer builds a replicator that reconstructs op.RecoverStripeIndex
// from the surviving stripes of op's RS block. It specializes the shared
// replicator state machine exactly at the two points PeerReplicator and
// RSRecoverer differ: meta discovery is synthetic instead of an RPC, and
// reads are served by an rsreader.Reader instead of a single peer.
func NewRSRecoverer(op *core.ReplicateChunkOp, cm ChunkManager, locator rsreader.StripeLocator, source rsreader.StripeSource, bufMgr *bufmgr.Manager, registry *Registry, sink ResponseSink, counters *Counters, cfg Config) *replicator {
	readSize := deriveRSReadSize(
		maxInt64(cfg.ReaderMaxReadSize, cfg.ReaderMaxChunkReadSize),
		op.StripeSize,
		cfg.ReaderMaxReadSize,
		bufMgr.Capacity(),
		op.NumStripes,
	)

	r := &replicator{
		Job:           newJob(),
		op:            op,
		targetVersion: op.ChunkVersion,
		isRecovery:    true,
		cm:            cm,
		bufCli:        bufMgr.NewClient(),
		registry:      registry,
		sink:          sink,
		counters:      counters,
		bufferBytes:   readSize * int64(op.NumStripes+1),
		readSize:      readSize,
		closeSource:   func() {},
	}

	r.fetchMeta = func(ctx context.Context) (int64, int, core.Error) {
		// No RPC: CHUNK_SIZE is only an upper bound (the read loop stops
		// at the reader's ErrEOF at the stripe end), and the chunk always
		// gets the meta-server's target version.
		return core.ChunkSize, op.ChunkVersion, core.NoError
	}

	var (
		readerMu sync.Mutex
		reader   *rsreader.Reader
	)
	r.readChunk = func(ctx context.Context, offset int64, numBytes int) ([]byte, core.Error) {
		readerMu.Lock()
		rd := reader
		readerMu.Unlock()
		if rd == nil {
			opened, err := rsreader.Open(ctx, source, locator, rsreader.Config{
				PathName:           op.PathName,
				ChunkOffset:        op.ChunkOffset,
				NumStripes:         op.NumStripes,
				NumRecoveryStripes: op.NumRecoveryStripes,
				StripeSize:         op.StripeSize,
				RecoverIndex:       op.RecoverStripeIndex,
				SkipHoles:          true,
				Retrier: retry.Retrier{
					MinSleep:      cfg.ReaderTimeBetweenRetries,
					MaxSleep:      cfg.ReaderTimeBetweenRetries,
					MaxNumRetries: cfg.ReaderMaxRetryCount,
				},
			})
			if err != core.NoError {
				return nil, err
			}
			readerMu.Lock()
			reader = opened
			readerMu.Unlock()
			rd = opened
		}
		return rd.Read(ctx, offset, numBytes)
	}
	r.closeSource = func() {
		readerMu.Lock()
		rd := reader
		readerMu.Unlock()
		if rd != nil {
			rd.Close()
		}
	}
	r.onFailure = func() {
		readerMu.Lock()
		rd := reader
		readerMu.Unlock()
		if rd == nil {
			return
		}
		op.InvalidStripeIdx = formatInvalidStripeIdx(rd.FailedStripes(), op.NumStripes+op.NumRecoveryStripes)
	}

	return r
}

// formatInvalidStripeIdx renders failed stripes as the space-separated
// "idx chunkId ver idx chunkId ver ..." diagnostic the meta-server expects,
// truncated to at most maxEntries triplets, in encounter order.
func formatInvalidStripeIdx(failed []rsreader.FailedStripe, maxEntries int) string {
	if len(failed) > maxEntries {
		failed = failed[:maxEntries]
	}
	parts := make([]string, 0, len(failed)*3)
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%d", f.Index), fmt.Sprintf("%d", int64(f.ChunkID)), fmt.Sprintf("%d", f.Version))
	}
	return strings.Join(parts, " ")
}
