// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package metrics provides HTTP-facing Prometheus instrumentation for the
cmd/hearthctl demo server.

# Overview

Collector registers a small set of promauto-managed vectors and records
per-request metrics for the demo HTTP facade. It is unrelated to afcp's own
OpenMetrics exporter, which reports the control plane's domain metrics
(routing, admission, consensus, agent health) independently.

# Capabilities

  - HTTP metrics: request count, duration, and request/response body size,
    grouped by method/path; the request count is also split by status,
    bucketed into 2xx/3xx/4xx/5xx.
*/
package metrics
