// ABOUTME: Package documentation for the relay package.
// ABOUTME: Describes command routing, event fan-out, and delivery modes.

// Package relay moves traffic between panels and agents.
//
// # Overview
//
// Three concerns live here. The Router delivers a panel's command to
// exactly one named agent, evicting stale connections on write failure.
// The Relay consumes raw agent messages, stores bulk thumbnail listings
// in the media cache, and fans every other event out to panels. The
// Mailbox queues commands for agents that pull over long-poll instead
// of holding a persistent connection.
//
// # Delivery modes
//
// In broadcast mode every connected panel receives every agent event as
// it arrives. In mailbox mode events are retained per agent, newest per
// event type, and panels drain them on demand. Directory updates are
// pushed in both modes.
//
// # Failure isolation
//
// Nothing in this package terminates a connection because of bad input.
// Malformed agent messages are logged and dropped. A write failure to
// one panel never blocks delivery to the others.
package relay
