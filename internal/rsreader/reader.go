// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package rsreader reconstructs one missing stripe of a Reed-Solomon encoded
// block by reading the same byte range from every surviving stripe and
// running it through klauspost/reedsolomon, the way the corpus's
// Store.RSEncode reconstructs a tract for re-replication.
package rsreader

import (
	"context"
	"sync"

	"github.com/klauspost/reedsolomon"

	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/pkg/retry"
)

// defaultMaxRetries bounds a stripe read's retry loop when a caller leaves
// Config.Retrier at its zero value.
const defaultMaxRetries = 5

// StripeLocator resolves which chunk server holds each stripe of an RS
// block. Implemented by internal/metaclient.Client.
type StripeLocator interface {
	GetStripeLocations(ctx context.Context, pathName string, chunkOffset int64, numStripes, numRecoveryStripes int) (core.StripeLocationsReply, core.Error)
}

// StripeSource reads a byte range from one stripe's chunk server.
// Implemented by internal/peerclient.Client.
type StripeSource interface {
	Read(ctx context.Context, loc core.Location, chunkID core.ChunkID, version int, offset int64, numBytes int) ([]byte, core.Error)
}

// Config describes the RS block being recovered.
type Config struct {
	PathName           string
	ChunkOffset        int64
	NumStripes         int
	NumRecoveryStripes int
	StripeSize         int64
	RecoverIndex       int

	// SkipHoles allows stripes whose location is unknown to be treated as
	// missing (nil shard) rather than failing the whole read.
	SkipHoles bool

	Retrier retry.Retrier
}

// FailedStripe names one stripe that could not be read while reconstructing.
type FailedStripe struct {
	Index   int
	ChunkID core.ChunkID
	Version int
}

// Reader reconstructs the Config.RecoverIndex shard of an RS block,
// presenting it as a sequential byte stream starting at offset 0.
type Reader struct {
	cfg     Config
	source  StripeSource
	enc     reedsolomon.Encoder
	total   int // NumStripes + NumRecoveryStripes

	locations []core.Location
	chunkIDs  []core.ChunkID
	versions  []int

	mu     sync.Mutex
	failed []FailedStripe
}

// Open resolves stripe locations via locator and prepares a Reader. It does
// no data I/O itself -- that happens lazily in Read, matching the "meta
// discovery is synthetic" shortcut the recovery path takes for the chunk
// size/version themselves.
func Open(ctx context.Context, source StripeSource, locator StripeLocator, cfg Config) (*Reader, core.Error) {
	total := cfg.NumStripes + cfg.NumRecoveryStripes
	if cfg.NumStripes <= 0 || cfg.NumRecoveryStripes < 0 || cfg.RecoverIndex < 0 || cfg.RecoverIndex >= total {
		return nil, core.ErrInvalidArgument
	}
	if cfg.StripeSize < core.MinStripeSize || cfg.StripeSize > core.MaxStripeSize || cfg.StripeSize%core.StripeAlignment != 0 {
		return nil, core.ErrInvalidArgument
	}

	reply, err := locator.GetStripeLocations(ctx, cfg.PathName, cfg.ChunkOffset, cfg.NumStripes, cfg.NumRecoveryStripes)
	if err != core.NoError {
		return nil, err
	}
	if len(reply.Locations) != total || len(reply.ChunkIDs) != total || len(reply.Versions) != total {
		log.Errorf("rsreader: meta-server returned %d/%d/%d locations for %d stripes",
			len(reply.Locations), len(reply.ChunkIDs), len(reply.Versions), total)
		return nil, core.ErrCorruptData
	}

	enc, eerr := reedsolomon.New(cfg.NumStripes, cfg.NumRecoveryStripes)
	if eerr != nil {
		log.Errorf("rsreader: couldn't build RS encoder for %d+%d: %s", cfg.NumStripes, cfg.NumRecoveryStripes, eerr)
		return nil, core.ErrInvalidArgument
	}

	if cfg.Retrier.MaxNumRetries == 0 {
		cfg.Retrier.MaxNumRetries = defaultMaxRetries
	}

	return &Reader{
		cfg:       cfg,
		source:    source,
		enc:       enc,
		total:     total,
		locations: reply.Locations,
		chunkIDs:  reply.ChunkIDs,
		versions:  reply.Versions,
	}, core.NoError
}

// Read reconstructs numBytes of the recovered shard at offset and returns
// them. offset/numBytes should already be checksum-block aligned by the
// caller; a short return only happens at StripeSize (end of chunk), and any
// read that reaches StripeSize returns its data together with ErrEOF.
func (r *Reader) Read(ctx context.Context, offset int64, numBytes int) ([]byte, core.Error) {
	if offset >= r.cfg.StripeSize {
		return nil, core.ErrEOF
	}
	if offset+int64(numBytes) > r.cfg.StripeSize {
		numBytes = int(r.cfg.StripeSize - offset)
	}

	shards := make([][]byte, r.total)
	var wg sync.WaitGroup
	errs := make([]core.Error, r.total)

	for i := 0; i < r.total; i++ {
		if i == r.cfg.RecoverIndex {
			continue
		}
		if !r.locations[i].IsValid() {
			if r.cfg.SkipHoles {
				continue
			}
			errs[i] = core.ErrNoSuchChunk
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.readShard(ctx, i, offset, numBytes, shards)
		}(i)
	}
	wg.Wait()

	var failed []FailedStripe
	for i, e := range errs {
		if e != core.NoError {
			failed = append(failed, FailedStripe{Index: i, ChunkID: r.chunkIDs[i], Version: r.versions[i]})
		}
	}
	if len(failed) > 0 {
		r.mu.Lock()
		r.failed = append(r.failed, failed...)
		r.mu.Unlock()
		return nil, core.ErrIO
	}

	if err := r.enc.Reconstruct(shards); err != nil {
		log.Errorf("rsreader: reconstruct failed: %s", err)
		return nil, core.ErrUnknown
	}

	out := shards[r.cfg.RecoverIndex]
	if out == nil {
		return nil, core.ErrUnknown
	}
	if offset+int64(numBytes) == r.cfg.StripeSize {
		return out[:numBytes], core.ErrEOF
	}
	return out[:numBytes], core.NoError
}

func (r *Reader) readShard(ctx context.Context, i int, offset int64, numBytes int, shards [][]byte) core.Error {
	var data []byte
	var err core.Error
	r.cfg.Retrier.Do(ctx, func(attempt int) bool {
		data, err = r.source.Read(ctx, r.locations[i], r.chunkIDs[i], r.versions[i], offset, numBytes)
		if err == core.NoError || err == core.ErrEOF {
			return true
		}
		return !core.IsRetriable(err)
	})
	if err != core.NoError && err != core.ErrEOF {
		return err
	}
	if len(data) != numBytes {
		// A full-length shard is required for every surviving stripe; a
		// short read here (other than at EOF, already handled by caller)
		// means the source is corrupt or behind.
		return core.ErrShortRead
	}
	shards[i] = data
	return core.NoError
}

// FailedStripes returns every stripe that failed to read across the
// lifetime of this Reader, in encounter order.
func (r *Reader) FailedStripes() []FailedStripe {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FailedStripe, len(r.failed))
	copy(out, r.failed)
	return out
}

// Close releases resources held by the Reader. Currently a no-op since all
// state is in-memory, but kept symmetric with the rest of the I/O stack.
func (r *Reader) Close() {}
