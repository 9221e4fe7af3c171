// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Command hearthctl is the executable entry point for the Agent Federation
Control Plane: it loads config, constructs an afcp.Plane wired to the
reference HTTP transport, and serves a small JSON facade over it
(/agents, /route, /consensus) plus a separate OpenMetrics /metrics port.

# Subcommands

  - serve   — start the control plane and its HTTP facade
  - version — print build version info
  - health  — probe a running instance's /health endpoint

# Middleware chain

Recovery, RequestID, RequestLogger, MetricsMiddleware, OTelTracing,
SecurityHeaders — applied to every request on the main HTTP port. The
metrics port serves /metrics (the plane's OpenMetrics text) and
/metrics-internal (the default Prometheus registry, which holds the HTTP
collector's metrics) and carries no middleware.
*/
package main
