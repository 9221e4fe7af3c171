// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package afcp implements the Agent Federation Control Plane: a single-process,
in-memory runtime that maintains a live catalog of remote worker agents, each
advertising a set of capabilities, and routes or fans out work to them under
failure, load, and latency constraints.

# Components

The plane is built bottom-up from a handful of components, each independently
testable:

  - Clock, an injectable monotonic time source.
  - Registry and capability index, the source of truth for known agents.
  - Admission Controller, a per-client sliding-window + token-bucket limiter.
  - Selector, the routing policy for a single Route call.
  - Dispatcher, which issues one Transport call and folds the result back
    into Registry load/health feedback.
  - Quorum Engine, which fans a proposal out to every capable agent in
    parallel and decides by strict-majority vote.
  - Health Monitor, a ticker that ages out stale agents and decays load.
  - Metrics Exporter, an OpenMetrics-compliant read-only projection of all
    of the above.

# Usage

	plane := afcp.New(ctx, afcp.Options{
	    Transport: myTransport,
	    Logger:    logger,
	})
	defer plane.Close()
	plane.Register(afcp.Agent{ID: "a1", Endpoint: "agent-1:9000", Capabilities: []string{"render"}})
	result, err := plane.Route(ctx, "render", payload, afcp.DefaultRouteOptions(), "client-1")

AFCP never reads configuration files or environment variables itself; a
caller (typically cmd/hearthctl) translates a loaded config.Config into
afcp.Options before construction.
*/
package afcp
