// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package peerclient talks to other chunk servers on behalf of a
// PeerReplicator, fetching chunk metadata and reading chunk data.
package peerclient

import (
	"context"
	"time"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/pkg/rpc"
)

const (
	// GetChunkMetadataMethod and ReadMethod name the RPCs a chunk server
	// exposes to its peers.
	GetChunkMetadataMethod = "ChunkServer.GetChunkMetadata"
	ReadMethod             = "ChunkServer.Read"

	dialTimeout        = 10 * time.Second
	rpcTimeout         = 30 * time.Second
	connectionCacheCap = 30
)

// Client is an RPC-based implementation of replication.PeerClient.
type Client struct {
	cc *rpc.ConnectionCache
}

// New returns a new Client.
func New() *Client {
	return &Client{cc: rpc.NewConnectionCache(dialTimeout, rpcTimeout, connectionCacheCap)}
}

// GetChunkMetadata asks loc for chunkID's size and version.
func (c *Client) GetChunkMetadata(ctx context.Context, loc core.Location, chunkID core.ChunkID) (core.GetChunkMetadataReply, core.Error) {
	req := core.GetChunkMetadataReq{ChunkID: chunkID, ReadVerify: false}
	var reply core.GetChunkMetadataReply
	if err := c.cc.Send(ctx, loc.String(), GetChunkMetadataMethod, &req, &reply); err != nil {
		return core.GetChunkMetadataReply{}, core.ErrRPC
	}
	return reply, core.Error(reply.Status)
}

// Read reads numBytes at offset from chunkID/version on loc.
func (c *Client) Read(ctx context.Context, loc core.Location, chunkID core.ChunkID, version int, offset int64, numBytes int) ([]byte, core.Error) {
	req := core.ReadReq{ChunkID: chunkID, Version: version, Offset: offset, NumBytes: numBytes}
	var reply core.ReadReply
	if err := c.cc.Send(ctx, loc.String(), ReadMethod, &req, &reply); err != nil {
		return nil, core.ErrRPC
	}
	return reply.Data, core.Error(reply.Status)
}

// CloseAll closes every cached connection.
func (c *Client) CloseAll() error {
	return c.cc.CloseAll()
}
