// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package chunkstore is the on-disk chunk store that the replication and
// recovery core drives to allocate, fill in, and commit chunk files. It
// keeps each chunk in its own ChecksumFile, storing the chunk's version in
// an extended attribute the same way the corpus's tract store does.
package chunkstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/pkg/disk"
	"github.com/distribfs/chunkserver/pkg/rpc"
)

const versionXattr = "v"

// Manager is a local, single-directory chunk store.
type Manager struct {
	rootDir string

	mu sync.Mutex
	// busy tracks chunks currently open for exclusive access, mirroring the
	// corpus tract store's busy map (-1 means one active writer).
	busy map[core.ChunkID]int32
	cond sync.Cond

	// replicating holds chunks currently being allocated/filled in by
	// replication or recovery. They are invisible to GetChunkInfo until
	// ReplicationDone or ChangeChunkVers(stable=true) clears them.
	replicating map[core.ChunkID]bool
}

// NewManager returns a Manager storing chunk files under rootDir. rootDir
// must already exist. Any chunk file left at the never-used-version sentinel
// by a crash mid-replication is deleted before the Manager is handed back,
// so a restart never exposes a half-written chunk.
func NewManager(rootDir string) *Manager {
	m := &Manager{
		rootDir:     rootDir,
		busy:        make(map[core.ChunkID]int32),
		replicating: make(map[core.ChunkID]bool),
	}
	m.cond.L = &m.mu
	m.deleteNeverUsedChunks()
	return m
}

// deleteNeverUsedChunks scans rootDir for chunk files still at
// core.NeverUsedVersion -- allocated by AllocChunk but never committed by
// ChangeChunkVers before the process died -- and removes them.
func (m *Manager) deleteNeverUsedChunks() {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		log.Errorf("chunkstore: failed to scan %s for startup cleanup: %s", m.rootDir, err)
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(ent.Name(), "chunk-%d", &id); err != nil {
			continue
		}
		path := filepath.Join(m.rootDir, ent.Name())
		f, err := disk.NewChecksumFile(path, os.O_RDONLY)
		if err != nil {
			log.Errorf("chunkstore: startup cleanup: failed to open %s: %s", path, err)
			continue
		}
		version, verr := getVersion(f)
		f.Close()
		if verr != core.NoError {
			log.Errorf("chunkstore: startup cleanup: failed to read version of %s: %s", path, verr)
			continue
		}
		if version != core.NeverUsedVersion {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Errorf("chunkstore: startup cleanup: failed to delete never-used chunk %s: %s", path, err)
			continue
		}
		log.Infof("chunkstore: startup cleanup: deleted never-used chunk %s", path)
	}
}

func (m *Manager) path(chunkID core.ChunkID) string {
	return filepath.Join(m.rootDir, fmt.Sprintf("chunk-%d", int64(chunkID)))
}

func (m *Manager) lock(chunkID core.ChunkID) {
	m.mu.Lock()
	for m.busy[chunkID] != 0 {
		m.cond.Wait()
	}
	m.busy[chunkID] = -1
	m.mu.Unlock()
}

func (m *Manager) unlock(chunkID core.ChunkID) {
	m.mu.Lock()
	delete(m.busy, chunkID)
	m.mu.Unlock()
	m.cond.Broadcast()
}

// AllocChunk creates a new chunk file with the never-used sentinel version.
// If isReplication is true and a file already exists at this path, it's
// deleted first -- this is how a stale local copy is dropped before a
// replication overwrites it.
func (m *Manager) AllocChunk(ctx context.Context, fileID core.FileID, chunkID core.ChunkID, isReplication bool) core.Error {
	if !chunkID.IsValid() {
		return core.ErrInvalidArgument
	}

	m.lock(chunkID)
	defer m.unlock(chunkID)

	path := m.path(chunkID)
	if isReplication {
		os.Remove(path)
	}

	m.mu.Lock()
	m.replicating[chunkID] = true
	m.mu.Unlock()

	f, err := disk.NewChecksumFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		log.Errorf("chunk %s: alloc failed: %s", chunkID, err)
		m.clearReplicating(chunkID)
		return core.ErrIO
	}
	defer f.Close()

	if e := setVersion(f, core.NeverUsedVersion); e != core.NoError {
		m.clearReplicating(chunkID)
		return e
	}
	return core.NoError
}

// WriteChunk writes b at offset into the chunk being replicated.
func (m *Manager) WriteChunk(ctx context.Context, chunkID core.ChunkID, offset int64, b []byte) core.Error {
	m.lock(chunkID)
	defer m.unlock(chunkID)

	f, err := disk.NewChecksumFile(m.path(chunkID), os.O_RDWR)
	if err != nil {
		return core.ErrNoSuchChunk
	}
	defer f.Close()

	if _, werr := f.WriteAt(b, offset); werr != nil {
		if werr == disk.ErrCorruptData {
			return core.ErrCorruptData
		}
		log.Errorf("chunk %s: write at %d failed: %s", chunkID, offset, werr)
		return core.ErrNoSpace
	}
	return core.NoError
}

// ChangeChunkVers commits the chunk to targetVersion. If stable, the chunk
// becomes visible to normal reads (it's dropped from the replicating set).
func (m *Manager) ChangeChunkVers(ctx context.Context, chunkID core.ChunkID, targetVersion int, stable bool) core.Error {
	m.lock(chunkID)
	defer m.unlock(chunkID)

	f, err := disk.NewChecksumFile(m.path(chunkID), os.O_RDWR)
	if err != nil {
		return core.ErrNoSuchChunk
	}
	defer f.Close()

	if e := setVersion(f, targetVersion); e != core.NoError {
		return e
	}
	if stable {
		m.clearReplicating(chunkID)
	}
	return core.NoError
}

// StaleChunk marks chunkID as no longer wanted, deleting its file if
// deleteOk.
func (m *Manager) StaleChunk(ctx context.Context, chunkID core.ChunkID, deleteOk bool) core.Error {
	m.lock(chunkID)
	defer m.unlock(chunkID)

	m.clearReplicating(chunkID)
	if !deleteOk {
		return core.NoError
	}
	if err := os.Remove(m.path(chunkID)); err != nil && !os.IsNotExist(err) {
		log.Errorf("chunk %s: failed to delete: %s", chunkID, err)
		return core.ErrIO
	}
	return core.NoError
}

// GetChunkInfo returns the size and version of a chunk visible in the
// normal chunk table. Chunks still mid-replication report ErrNoSuchChunk,
// per the invariant that an in-flight replication's chunk is invisible.
func (m *Manager) GetChunkInfo(chunkID core.ChunkID) (core.ChunkInfo, core.Error) {
	m.mu.Lock()
	hidden := m.replicating[chunkID]
	m.mu.Unlock()
	if hidden {
		return core.ChunkInfo{}, core.ErrNoSuchChunk
	}

	f, err := disk.NewChecksumFile(m.path(chunkID), os.O_RDONLY)
	if err != nil {
		return core.ChunkInfo{}, core.ErrNoSuchChunk
	}
	defer f.Close()

	size, serr := f.Size()
	if serr != nil {
		return core.ChunkInfo{}, core.ErrIO
	}
	version, verr := getVersion(f)
	if verr != core.NoError {
		return core.ChunkInfo{}, verr
	}
	return core.ChunkInfo{ChunkSize: size, ChunkVersion: version}, core.NoError
}

// ReplicationDone is called once a replication or recovery attempt for
// chunkID has terminated. On failure, any partial chunk file left behind is
// removed so a restart won't see a stale never-used-version chunk.
func (m *Manager) ReplicationDone(chunkID core.ChunkID, status core.Error) {
	m.clearReplicating(chunkID)
	if status != core.NoError {
		os.Remove(m.path(chunkID))
	}
}

func (m *Manager) clearReplicating(chunkID core.ChunkID) {
	m.mu.Lock()
	delete(m.replicating, chunkID)
	m.mu.Unlock()
}

func setVersion(f *disk.ChecksumFile, version int) core.Error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(version))
	if err := f.Setxattr(versionXattr, b[:]); err != nil {
		log.Errorf("failed to set version: %s", err)
		return core.ErrIO
	}
	return core.NoError
}

func getVersion(f *disk.ChecksumFile) (int, core.Error) {
	b, err := f.Getxattr(versionXattr)
	if err != nil {
		return 0, core.ErrIO
	}
	if len(b) != 8 {
		return 0, core.ErrCorruptData
	}
	return int(binary.LittleEndian.Uint64(b)), core.NoError
}

// ReadChunk reads numBytes at offset from a chunk, used to serve GetChunkMetadata/Read RPCs
// from a peer chunk server. A short read is only valid at end of chunk.
func (m *Manager) ReadChunk(ctx context.Context, chunkID core.ChunkID, offset int64, numBytes int) ([]byte, core.Error) {
	f, err := disk.NewChecksumFile(m.path(chunkID), os.O_RDONLY)
	if err != nil {
		return nil, core.ErrNoSuchChunk
	}
	defer f.Close()

	b := rpc.GetBuffer(numBytes + disk.ExtraRoom)[:numBytes]
	n, rerr := f.ReadAt(b, offset)
	b = b[:n]
	if rerr != nil && rerr != io.EOF {
		rpc.PutBuffer(b, true)
		return nil, core.ErrIO
	}
	return b, core.NoError
}
