// Package config handles configuration loading for crewmux.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults; running
// without any config file is fully supported.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CREWMUX_CONFIG environment variable
//  2. ./crewmux.yaml (current directory)
//  3. ~/.config/crewmux/config.yaml
//
// # Sections
//
// Discovery timing and scoping:
//
//	discovery:
//	  stale_threshold: "60s"  # grace period before a quiet agent is stale
//	  tmux_timeout: "5s"      # bound on each tmux invocation
//	  session: ""             # restrict scans to one tmux session
//
// Worker signatures beyond the builtin pack:
//
//	signatures:
//	  extra: ["my-worker"]
//	  packs: ["/etc/crewmux/site-workers.toml"]
//
// Cycle journal (off by default):
//
//	journal:
//	  enabled: true
//	  path: ".crewmux/journal.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax and values may
// reference environment variables with ${VAR_NAME}.
//
// # What is not configurable
//
// The registry file path is fixed at .crewmux/registry.json relative to the
// working directory. Collaborators rely on resolving the same file, so it is
// not a config knob.
package config
