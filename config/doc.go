// Copyright 2026 hearthctl Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the typed configuration hearthctl hands to the AFCP
control plane, its HTTP surface, and its telemetry at startup.

Configuration priority is: defaults -> YAML file -> environment variables.
The control plane itself never reads files or the environment; config is
always an explicit collaborator constructed before afcp.New is called.

	cfg, err := config.NewLoader().
	    WithConfigPath("hearthctl.yaml").
	    WithEnvPrefix("HEARTHCTL").
	    Load()
*/
package config
