// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package metaclient is the RS reader's process-wide client to the RS
// meta-server, which resolves a recovery op's stripe indices to the chunk
// servers currently serving each stripe. There is one client per process,
// lazily created and reconfigured in place whenever a recovery op targets a
// different meta-server address, rather than one per recovery -- the
// corpus's connection cache already amortizes per-address connections, but
// the meta-server address itself can change between ops.
package metaclient

import (
	"context"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/distribfs/chunkserver/internal/core"
	"github.com/distribfs/chunkserver/pkg/rpc"
)

const (
	// GetStripeLocationsMethod names the RPC exposed by the RS meta-server.
	GetStripeLocationsMethod = "MetaServer.GetStripeLocations"

	dialTimeout        = 10 * time.Second
	rpcTimeout         = 30 * time.Second
	connectionCacheCap = 4
)

var (
	singletonOnce sync.Once
	singleton     *Client
)

// Client talks to the RS meta-server currently configured.
type Client struct {
	cc *rpc.ConnectionCache

	mu   sync.Mutex
	addr string
}

// Get returns the process-wide Client, creating it on first use.
func Get() *Client {
	singletonOnce.Do(func() {
		singleton = &Client{cc: rpc.NewConnectionCache(dialTimeout, rpcTimeout, connectionCacheCap)}
	})
	return singleton
}

// Reconfigure points the client at a new meta-server address, logging when
// the address actually changes.
func (c *Client) Reconfigure(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addr != addr {
		log.Infof("RS meta-server client reconfigured: %q -> %q", c.addr, addr)
		c.addr = addr
	}
}

// CancelAll drops every cached connection, causing in-flight RPCs to the
// meta-server to fail and any future ones to redial.
func (c *Client) CancelAll() {
	c.cc.CloseAll()
}

// GetStripeLocations resolves which chunk server holds each stripe of the
// RS block identified by pathName/chunkOffset.
func (c *Client) GetStripeLocations(ctx context.Context, pathName string, chunkOffset int64, numStripes, numRecoveryStripes int) (core.StripeLocationsReply, core.Error) {
	c.mu.Lock()
	addr := c.addr
	c.mu.Unlock()

	if addr == "" {
		return core.StripeLocationsReply{}, core.ErrInvalidArgument
	}

	req := core.StripeLocationsReq{
		PathName:           pathName,
		ChunkOffset:        chunkOffset,
		NumStripes:         numStripes,
		NumRecoveryStripes: numRecoveryStripes,
	}
	var reply core.StripeLocationsReply
	if err := c.cc.Send(ctx, addr, GetStripeLocationsMethod, &req, &reply); err != nil {
		return core.StripeLocationsReply{}, core.ErrRPC
	}
	return reply, core.Error(reply.Status)
}
