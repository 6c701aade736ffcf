// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Global constants that several components need to agree on are defined here.
// If a constant is only needed by a single component, it probably shouldn't
// be placed here.
const (
	// ChunkSize is the fixed maximum chunk length, 64 MiB.
	ChunkSize = 64 << 20

	// ChecksumBlockSize is the smallest unit of chunk data carrying its own
	// checksum. All non-tail reads/writes during replication and recovery
	// must be aligned to it.
	ChecksumBlockSize = 64 << 10

	// NeverUsedVersion is the sentinel version a chunk file is created with
	// while replication/recovery is in progress. A chunk found on disk with
	// this version after a restart is incomplete and must be deleted.
	NeverUsedVersion = 0

	// MinStripeSize and MaxStripeSize bound the per-stripe size of an RS
	// encoded block.
	MinStripeSize = 4 << 10
	MaxStripeSize = 64 << 20

	// StripeAlignment is the alignment every stripe size must satisfy.
	StripeAlignment = 4 << 10

	// StriperTypeRS identifies the Reed-Solomon striper. It's the only
	// striper type the recovery path accepts.
	StriperTypeRS = 2

	// StatusOK, StatusFailed and StatusInvalid are the values
	// ReplicateChunkOp.Status is mutated to on completion: 0 on success, -1
	// for a plain failure or cancellation, and -EINVAL (-22, matching the
	// errno) for an invalid request or a data-integrity/programmer-error
	// class failure that should never be retried.
	StatusOK      = 0
	StatusFailed  = -1
	StatusInvalid = -22
)
