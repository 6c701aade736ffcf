// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package replication

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// resetMetrics points the global Prometheus registerer at a fresh registry.
// NewCounters and NewDispatcher both register collectors under fixed names
// via promauto against prometheus.DefaultRegisterer, so calling them more
// than once within this package's test binary (every test shares one
// process) would otherwise panic on a duplicate registration.
func resetMetrics(t *testing.T) {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}
