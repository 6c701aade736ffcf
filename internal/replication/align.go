// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
)

// defaultReadSize is the smallest multiple of the checksum block size that
// is >= 1 MiB, used by PeerReplicator for plain peer-to-peer replication.
var defaultReadSize = roundUpToBlock(1 << 20)

func roundUpToBlock(n int64) int64 {
	return ((n + core.ChecksumBlockSize - 1) / core.ChecksumBlockSize) * core.ChecksumBlockSize
}

// alignDownToBlock rounds n down to a multiple of the checksum block size.
func alignDownToBlock(n int64) int64 {
	return (n / core.ChecksumBlockSize) * core.ChecksumBlockSize
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}

// deriveRSReadSize computes the per-request read size for RS recovery,
// trading off the caller's requested maxRead against an equal share of the
// buffer admission quota among the concurrent stripe readers (numStripes+1,
// the +1 accounting for the recovered stripe's own write buffer), then
// aligning the result so it divides evenly into whole checksum blocks and,
// where possible, whole stripes.
func deriveRSReadSize(maxRead, stripeSize, ioBufSize, quota int64, numStripes int) int64 {
	maxRead = roundUpToBlock(maxRead)

	denom := int64(numStripes + 1)
	if denom < 1 {
		denom = 1
	}
	perClient := alignDownToBlock(quota / denom)

	size := maxRead
	if perClient < size {
		size = perClient
	}
	if size < core.ChecksumBlockSize {
		size = core.ChecksumBlockSize
	}

	if size <= stripeSize {
		return size
	}

	if l := lcm(core.ChecksumBlockSize, stripeSize); l <= size {
		return size / l * l
	}
	if l := lcm(ioBufSize, stripeSize); l <= size {
		return size / l * l
	}

	l := lcm(ioBufSize, stripeSize)
	log.Warningf("deriveRSReadSize: no alignment <= %d fits stripe size %d, io buf %d; using lcm %d", size, stripeSize, ioBufSize, l)
	return l
}
