// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil provides shared test helpers for hearthctl's packages.

# Overview

testutil offers a common set of test helpers for context management and
polling assertions. No package in this module imports it; the afcp tests
use testify and afcp/afcptest.

# Core capabilities

  - Context helpers: TestContext / TestContextWithTimeout / CancelledContext,
    registering Cleanup automatically to avoid leaks
  - Assertions: AssertJSONEqual / AssertNoError / AssertError / AssertContains
  - Async assertions: AssertEventuallyTrue / AssertEventuallyEqual, for
    polling a condition with a timeout
  - Data helpers: MustJSON / MustParseJSON
  - Benchmark helpers: BenchmarkHelper wraps common testing.B operations

# Example

	ctx := testutil.TestContext(t)
	testutil.AssertEventuallyTrue(t, func() bool {
	    return len(plane.List(afcp.ListFilter{})) == 3
	}, 2*time.Second)
*/
package testutil
