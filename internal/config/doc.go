// Package config handles configuration loading for fleetgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLEETGATE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/fleetgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  http_addr: "${FLEETGATE_HTTP_ADDR}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_ttl: "90s"
//	  poll_timeout: "28s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"  # API, websocket, and long-poll endpoints
//
// Transport and relay modes:
//
//	transport:
//	  mode: "websocket"  # websocket, longpoll
//	relay:
//	  mode: "broadcast"  # broadcast, mailbox
//
// Agent timing:
//
//	agents:
//	  heartbeat_ttl: "90s"  # long-poll presence expiry
//	  poll_timeout: "28s"   # blocking command poll window
//
// Media cache retention:
//
//	media:
//	  ttl: "10m"  # "0s" keeps listings until disconnect
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Transport and relay mode values
//   - Duration format validity
//   - Poll timeout shorter than heartbeat TTL
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/fleetgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
