// ABOUTME: Package documentation for the gateway package.
// ABOUTME: Describes the HTTP surface, transports, and lifecycle.

// Package gateway wires the registry, relay, and media cache behind a
// single HTTP server.
//
// # Overview
//
// The Gateway owns every externally visible surface: the websocket
// endpoint where agents and panels attach, the JSON API panels use to
// command agents, the chunked media submission path, and the optional
// long-poll transport for agents that cannot hold a socket open.
//
// # Endpoints
//
// Connection and health:
//
//	GET  /ws/{device_id}/{device_name}       websocket attach (?type=panel for controllers)
//	GET  /health                             liveness
//	GET  /health/ready                       readiness (requires a connected agent)
//
// Panel API:
//
//	GET  /api/agents                         current agent directory
//	POST /api/send-command                   route a command to one agent
//	GET  /api/get_media_list/{device_id}     accumulated thumbnail listing
//	GET  /api/fetch_status/{device_id}       chunked fetch progress
//	GET  /api/agent_events/{device_id}       drain stored events (mailbox relay mode)
//
// Agent API:
//
//	POST /api/submit_media_chunk/{device_id} append a thumbnail chunk
//	POST /heartbeat/{device_id}/{device_name} long-poll presence (longpoll transport)
//	GET  /poll_commands/{device_id}           blocking command poll (longpoll transport)
//
// # Error shape
//
// Every error response is a JSON object with "status" and "message"
// fields. Clients never see a bare 5xx page.
//
// # Lifecycle
//
// New builds the component graph and the router; Run listens and blocks
// until the context is canceled; Shutdown drains the HTTP server, closes
// every live connection, and discards all in-memory state. Nothing is
// persisted: agents re-register on reconnect and panels receive a fresh
// directory push.
package gateway
