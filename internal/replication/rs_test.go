// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/reedsolomon"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/pkg/bufmgr"
)

type rsFakeLocator struct {
	reply core.StripeLocationsReply
}

func (f *rsFakeLocator) GetStripeLocations(ctx context.Context, pathName string, chunkOffset int64, numStripes, numRecoveryStripes int) (core.StripeLocationsReply, core.Error) {
	return f.reply, core.NoError
}

type rsFakeSource struct {
	shards map[core.ChunkID][]byte
	fail   map[core.ChunkID]core.Error
}

func (f *rsFakeSource) Read(ctx context.Context, loc core.Location, chunkID core.ChunkID, version int, offset int64, numBytes int) ([]byte, core.Error) {
	if err, ok := f.fail[chunkID]; ok {
		return nil, err
	}
	b := f.shards[chunkID]
	end := offset + int64(numBytes)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end], core.NoError
}

func buildRSStripes(t *testing.T, numData, numParity int, stripeLen int64) [][]byte {
	t.Helper()
	enc, err := reedsolomon.New(numData, numParity)
	if err != nil {
		t.Fatalf("reedsolomon.New: %s", err)
	}
	shards := make([][]byte, numData+numParity)
	for i := 0; i < numData; i++ {
		shards[i] = bytes.Repeat([]byte{byte('A' + i)}, int(stripeLen))
	}
	for i := numData; i < numData+numParity; i++ {
		shards[i] = make([]byte, stripeLen)
	}
	if err := enc.Encode(shards); err != nil {
		t.Fatalf("Encode: %s", err)
	}
	return shards
}

func TestRSRecovererReconstructsChunk(t *testing.T) {
	resetMetrics(t)
	const numData, numParity = 4, 2
	stripeLen := int64(core.StripeAlignment)
	shards := buildRSStripes(t, numData, numParity, stripeLen)

	shardMap := make(map[core.ChunkID][]byte)
	locs := make([]core.Location, numData+numParity)
	ids := make([]core.ChunkID, numData+numParity)
	vers := make([]int, numData+numParity)
	recoverIdx := 3
	for i := range shards {
		id := core.ChunkID(300 + i)
		shardMap[id] = shards[i]
		ids[i] = id
		vers[i] = 4
		locs[i] = core.Location{Host: "peer", Port: 9000 + i}
	}
	locs[recoverIdx] = core.Location{} // the missing stripe has no known location

	op := &core.ReplicateChunkOp{
		FileID:             core.FileID(1),
		ChunkID:            core.ChunkID(999),
		ChunkVersion:       4,
		PathName:           "/x",
		StriperType:        core.StriperTypeRS,
		NumStripes:         numData,
		NumRecoveryStripes: numParity,
		StripeSize:         stripeLen,
		RecoverStripeIndex: recoverIdx,
		MetaServerLocation: core.Location{Host: "meta", Port: 100},
	}
	if verr := ValidateRSGeometry(op); verr != core.NoError {
		t.Fatalf("ValidateRSGeometry: %s", verr)
	}

	cm := newFakeChunkManager()
	bufMgr := bufmgr.NewManager(64<<20, 32<<20)
	registry := NewRegistry()
	counters := NewCounters()
	sink := newResponseCapture()
	locator := &rsFakeLocator{reply: core.StripeLocationsReply{Locations: locs, ChunkIDs: ids, Versions: vers}}
	source := &rsFakeSource{shards: shardMap}

	r := NewRSRecoverer(op, cm, locator, source, bufMgr, registry, sink, counters, DefaultConfig())
	go r.Run(context.Background())

	done := sink.await(t)
	if done.Status != 0 || done.ChunkVersion != 4 {
		t.Fatalf("status=%d version=%d, want 0/4", done.Status, done.ChunkVersion)
	}

	info, err := cm.GetChunkInfo(op.ChunkID)
	if err != core.NoError {
		t.Fatalf("GetChunkInfo: %s", err)
	}
	if info.ChunkSize != stripeLen {
		t.Fatalf("recovered chunk size = %d, want %d", info.ChunkSize, stripeLen)
	}
	want := shards[recoverIdx]
	cm.mu.Lock()
	got := cm.data[op.ChunkID]
	cm.mu.Unlock()
	if !bytes.Equal(got, want) {
		t.Fatalf("recovered chunk content mismatch")
	}
}

func TestRSRecovererFailurePopulatesInvalidStripeIdx(t *testing.T) {
	resetMetrics(t)
	const numData, numParity = 4, 2
	stripeLen := int64(core.StripeAlignment)
	shards := buildRSStripes(t, numData, numParity, stripeLen)

	shardMap := make(map[core.ChunkID][]byte)
	locs := make([]core.Location, numData+numParity)
	ids := make([]core.ChunkID, numData+numParity)
	vers := make([]int, numData+numParity)
	for i := range shards {
		id := core.ChunkID(400 + i)
		shardMap[id] = shards[i]
		ids[i] = id
		vers[i] = 7
		locs[i] = core.Location{Host: "peer", Port: 9100 + i}
	}
	failIdx := 1
	recoverIdx := 0
	locs[recoverIdx] = core.Location{}

	op := &core.ReplicateChunkOp{
		FileID:             core.FileID(1),
		ChunkID:            core.ChunkID(1000),
		ChunkVersion:       7,
		PathName:           "/x",
		StriperType:        core.StriperTypeRS,
		NumStripes:         numData,
		NumRecoveryStripes: numParity,
		StripeSize:         stripeLen,
		RecoverStripeIndex: recoverIdx,
		MetaServerLocation: core.Location{Host: "meta", Port: 100},
	}

	cm := newFakeChunkManager()
	bufMgr := bufmgr.NewManager(64<<20, 32<<20)
	registry := NewRegistry()
	counters := NewCounters()
	sink := newResponseCapture()
	locator := &rsFakeLocator{reply: core.StripeLocationsReply{Locations: locs, ChunkIDs: ids, Versions: vers}}
	source := &rsFakeSource{shards: shardMap, fail: map[core.ChunkID]core.Error{ids[failIdx]: core.ErrRPC}}

	// The failing source exhausts every retry; keep the sleeps between
	// them short so the failure is reported well within sink.await's limit.
	cfg := DefaultConfig()
	cfg.ReaderTimeBetweenRetries = time.Millisecond
	r := NewRSRecoverer(op, cm, locator, source, bufMgr, registry, sink, counters, cfg)
	go r.Run(context.Background())

	done := sink.await(t)
	if done.Status == 0 {
		t.Fatalf("expected failure when a stripe source is down")
	}
	want := "1 401 7"
	if done.InvalidStripeIdx != want {
		t.Fatalf("InvalidStripeIdx = %q, want %q", done.InvalidStripeIdx, want)
	}
}

func TestValidateRSGeometryRejectsZeroMetaPort(t *testing.T) {
	op := &core.ReplicateChunkOp{
		StriperType:        core.StriperTypeRS,
		NumStripes:         4,
		NumRecoveryStripes: 2,
		StripeSize:         core.StripeAlignment,
	}
	if err := ValidateRSGeometry(op); err != core.ErrInvalidArgument {
		t.Fatalf("ValidateRSGeometry = %s, want ErrInvalidArgument for a zero meta port", err)
	}
}
