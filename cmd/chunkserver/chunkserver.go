// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"net/http"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distribfs/chunkserver/internal/chunkstore"
	"github.com/distribfs/chunkserver/internal/metaclient"
	"github.com/distribfs/chunkserver/internal/peerclient"
	"github.com/distribfs/chunkserver/internal/replication"
	"github.com/distribfs/chunkserver/internal/server"
	"github.com/distribfs/chunkserver/pkg/bufmgr"
	"github.com/distribfs/chunkserver/pkg/rpc"
)

/*

Configuring various parameters follows the same two steps used by the rest
of this corpus:

  (1) Default config parameters come from replication.DefaultConfig.

  (2) Command-line flags set the handful of parameters that matter at
      process startup (addr, rootDir, buffer quota); everything else keeps
      its DefaultConfig value for the life of the process.

*/

var (
	addr        = flag.String("addr", ":4800", "service address")
	metricsAddr = flag.String("metricsAddr", ":4801", "address to serve /metrics on")
	rootDir     = flag.String("rootDir", "", "directory to store chunk files in")

	bufMgrCapacity  = flag.Int64("bufMgrCapacity", 512<<20, "shared byte budget admitted across all in-flight replication/recovery jobs")
	bufMgrMaxClient = flag.Int64("bufMgrMaxClientBytes", 64<<20, "max bytes a single replication/recovery job may request at once")
)

func main() {
	flag.Parse()
	if *rootDir == "" {
		log.Fatalf("-rootDir is required")
	}

	cfg := replication.DefaultConfig()

	cm := chunkstore.NewManager(*rootDir)
	peer := peerclient.New()
	bufMgr := bufmgr.NewManager(*bufMgrCapacity, *bufMgrMaxClient)
	registry := replication.NewRegistry()
	counters := replication.NewCounters()

	d := replication.NewDispatcher(cm, peer, metaclient.Get(), bufMgr, registry, counters, cfg)
	handler := replication.NewHandler(d)

	if err := rpc.RegisterName("ChunkServer", handler); err != nil {
		log.Fatalf("failed to register ChunkServer RPC handler: %s", err)
	}

	http.HandleFunc("/_quit", server.QuitHandler)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Infof("serving /metrics on %s", *metricsAddr)
		log.Fatalf("metrics listener returned error: %s", http.ListenAndServe(*metricsAddr, mux))
	}()

	log.Infof("chunkserver listening on %s, storing chunks under %s", *addr, *rootDir)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("http listener returned error: %s", err)
	}
}
