// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// This file contains the wire-level structs shared between the
// replication/recovery core and its external interfaces: the meta-server
// that submits ops, the peer chunk servers it reads from, and the local
// ChunkManager.

// ReplicateChunkOp is submitted by the meta-server to start a replication or
// recovery of a chunk. It is immutable for the operation's lifetime except
// for the fields the core fills in on completion.
type ReplicateChunkOp struct {
	FileID  FileID
	ChunkID ChunkID

	// ChunkVersion is the target version to commit on success.
	ChunkVersion int

	// Location is the peer to replicate from. An invalid Location selects
	// the RS recovery variant instead of plain peer replication.
	Location Location

	// RS fields, used iff Location is invalid.
	ChunkOffset        int64
	StriperType        int
	NumStripes         int
	NumRecoveryStripes int
	StripeSize         int64
	FileSize           int64
	PathName           string

	// RecoverStripeIndex is which of the NumStripes+NumRecoveryStripes
	// shards this chunk server is reconstructing.
	RecoverStripeIndex int

	// MetaServerLocation is the RS meta-server to resolve stripe locations
	// against. Used iff Location is invalid; must have a positive port.
	MetaServerLocation Location

	// Mutated by the core on completion.
	Status           int
	InvalidStripeIdx string
}

// IsRecovery reports whether this op names an RS recovery rather than a
// plain peer-to-peer replication.
func (op *ReplicateChunkOp) IsRecovery() bool {
	return !op.Location.IsValid()
}

// GetChunkMetadataReq asks a peer chunk server for a chunk's size and
// version.
type GetChunkMetadataReq struct {
	ChunkID    ChunkID
	ReadVerify bool
}

// GetChunkMetadataReply is the peer's response to GetChunkMetadataReq.
type GetChunkMetadataReply struct {
	ChunkSize    int64
	ChunkVersion int
	Status       int
}

// ReadReq asks a peer chunk server (or, for recovery, a stripe source) to
// return a range of bytes from a chunk.
type ReadReq struct {
	ChunkID  ChunkID
	Version  int
	Offset   int64
	NumBytes int
}

// ReadReply carries the data returned for a ReadReq. A short read is only
// valid when it reaches the end of the chunk.
type ReadReply struct {
	Data   []byte
	Status int
}

// ChunkInfo is what the local ChunkManager reports about a chunk it holds.
type ChunkInfo struct {
	ChunkSize    int64
	ChunkVersion int
}

// StripeLocationsReq asks the RS meta-server which chunk server holds each
// stripe of an RS encoded block.
type StripeLocationsReq struct {
	PathName           string
	ChunkOffset        int64
	NumStripes         int
	NumRecoveryStripes int
}

// StripeLocationsReply lists one Location per stripe, in stripe-index order.
// A zero Location at an index means that stripe's source is unknown or down;
// skipHoles callers treat it as missing rather than failing outright.
type StripeLocationsReply struct {
	Locations []Location
	ChunkIDs  []ChunkID
	Versions  []int
	Status    int
}

// Counters are the process-wide replication/recovery counters exposed to
// monitoring.
type Counters struct {
	ReplicatorCount          int64
	ReplicationCount         int64
	RecoveryCount            int64
	ReplicationErrorCount    int64
	RecoveryErrorCount       int64
	ReplicationCanceledCount int64
	RecoveryCanceledCount    int64
}
