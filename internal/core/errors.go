// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import "io"

// Error is our own defined error type for sending errors over an RPC layer
// and for the replication/recovery state machine's final status.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	// ErrInvalidArgument is returned if an argument is bad, confusing, or
	// fails a geometry/consistency check (e.g. bad RS stripe parameters).
	ErrInvalidArgument

	// ErrEOF is returned when a read reaches the end of a chunk.
	ErrEOF

	// ErrShortRead is returned if a read returns less data than requested in
	// a context where that's unexpected (not EOF).
	ErrShortRead

	// ErrCorruptData is returned if a checksum block fails validation, or
	// metadata about a chunk is internally inconsistent (e.g. reported
	// chunk size exceeds ChunkSize).
	ErrCorruptData

	// ErrNoSpace is returned when a disk fills up while writing a block.
	ErrNoSpace

	// ErrNoSuchChunk is returned when an operation requires a chunk to
	// exist locally but it does not.
	ErrNoSuchChunk

	// ErrAlreadyExists is returned when allocating a chunk file that
	// already exists.
	ErrAlreadyExists

	// ErrIO is returned for an OS-level I/O error.
	ErrIO

	// ErrRPC is returned when the RPC layer errors during sending or
	// receiving, including failing to connect to a peer.
	ErrRPC

	// ErrTooBusy means the server is too busy to admit this request.
	ErrTooBusy

	// ErrOverQuota is returned when a client's buffer request exceeds the
	// buffer manager's maximum per-client quota. Fatal for the requesting
	// operation; it is never queued.
	ErrOverQuota

	// ErrCanceled is returned when an operation was canceled, either by
	// supersession or by an explicit CancelAll.
	ErrCanceled

	// ErrTimedOut is returned when a peer or reader operation exceeds its
	// configured timeout.
	ErrTimedOut

	// ErrUnknown is an error we're not sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError:            "no error",
	ErrInvalidArgument: "invalid argument",
	ErrEOF:             "end of chunk",
	ErrShortRead:       "short read in unexpected context",
	ErrCorruptData:     "checksum block is invalid or chunk metadata is inconsistent",
	ErrNoSpace:         "ran out of space, possibly wrote partial block",
	ErrNoSuchChunk:     "chunk does not exist",
	ErrAlreadyExists:   "chunk already exists",
	ErrIO:              "I/O level error",
	ErrRPC:             "RPC-level error",
	ErrTooBusy:         "too busy",
	ErrOverQuota:       "buffer request exceeds client quota",
	ErrCanceled:        "operation canceled",
	ErrTimedOut:        "operation timed out",
	ErrUnknown:         "unknown error",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object corresponding to this core.Error, or
// nil if e is NoError.
func (e Error) Error() error {
	if e == NoError {
		return nil
	} else if e == ErrEOF {
		// io.EOF is special-cased by the standard library's io.Reader
		// contract, so hand it back verbatim.
		return io.EOF
	}
	return goError(e)
}

// Is checks whether the generic Go error g is actually this core.Error
// underneath, allowing errors.Is(err, core.ErrFoo.Error()) to work.
func (e Error) Is(g error) bool {
	b, ok := g.(goError)
	return ok && Error(b) == e
}

// goError wraps Error so it satisfies the standard 'error' interface.
type goError Error

func (g goError) Error() string { return Error(g).String() }

// FromError extracts the underlying core.Error from an error produced by
// Error.Error, if any.
func FromError(err error) (Error, bool) {
	e, ok := err.(goError)
	return Error(e), ok
}

// IsRetriable reports whether e is the kind of error worth retrying at the
// reader/peer-client layer (the replication/recovery core itself never
// retries, per spec.md §7 -- retries belong to the reader and meta-client).
func IsRetriable(e Error) bool {
	switch e {
	case ErrRPC, ErrTooBusy, ErrTimedOut:
		return true
	}
	return false
}
