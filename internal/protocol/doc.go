// Package protocol defines the tagged wire messages the gateway exchanges
// with agents and panels: point-to-point Commands, agent-originated Events,
// and full-directory DirectoryUpdates. Parsing is strict so malformed
// payloads are rejected at the boundary instead of probed field by field.
package protocol
