// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package server provides HTTP/HTTPS server lifecycle management, with
non-blocking startup, graceful shutdown, and OS signal handling.

# Overview

Manager wraps net/http.Server, centralizing listener setup, serving,
shutdown, and error propagation. It supports both plain HTTP and TLS
startup modes and listens for SIGINT/SIGTERM so graceful shutdown works
the same way in development and production.

# Core types

  - Manager: an HTTP server manager holding an http.Server, a
    net.Listener, and an async error channel, exposing Start/StartTLS/
    Shutdown/WaitForShutdown.
  - Config: server configuration — listen address, read/write timeouts,
    idle timeout, max header size, and graceful shutdown timeout.

# Capabilities

  - Non-blocking startup: Start/StartTLS run the server in a background
    goroutine; the caller never blocks.
  - Graceful shutdown: Shutdown drains in-flight requests and releases
    connections within the configured timeout.
  - Signal handling: WaitForShutdown listens for SIGINT/SIGTERM and
    triggers graceful shutdown automatically.
  - Error propagation: Errors() returns a channel the caller can
    monitor for unexpected server failures.
  - TLS support: StartTLS takes a certificate and key file.
  - Status queries: IsRunning/Addr report current state.
*/
package server
