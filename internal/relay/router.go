// ABOUTME: Command router that delivers one-shot commands to a named agent.
// ABOUTME: Enforces the clear-cache-before-send ordering for fresh fetches.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
)

// ErrTargetNotConnected indicates the addressed agent has no live
// connection. This is an expected condition, not a fault.
var ErrTargetNotConnected = errors.New("target agent not connected")

// ErrDeliveryFailed indicates the write to a live-looking connection
// failed. The stale entry is evicted before this is returned.
var ErrDeliveryFailed = errors.New("command delivery failed")

// Router implements point-to-point command delivery from panels to agents.
type Router struct {
	registry *registry.Registry
	media    *mediacache.Cache
	logger   *slog.Logger
}

// NewRouter creates a Router over the given registry and media cache.
func NewRouter(reg *registry.Registry, media *mediacache.Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: reg,
		media:    media,
		logger:   logger.With("component", "router"),
	}
}

// Route looks up the command's target agent and performs a single write
// to its connection.
//
// Returns ErrTargetNotConnected on a lookup miss, with zero writes
// performed. A write failure strongly implies a stale registry entry, so
// the exact connection instance is evicted before ErrDeliveryFailed is
// returned; there is no automatic retry.
//
// The get_thumbnails action resets the target's media cache before the
// write. The ordering matters: once the command is on the wire, every
// chunk the agent submits belongs to the new fetch, and a straggler from
// the previous fetch can never survive into it.
func (r *Router) Route(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, ok := r.registry.Lookup(cmd.TargetID, protocol.RoleAgent)
	if !ok {
		return ErrTargetNotConnected
	}

	if cmd.Action == protocol.ActionGetThumbnails {
		r.media.Reset(cmd.TargetID)
	}

	payload, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	if err := conn.Sender.Send(payload); err != nil {
		if _, removed := r.registry.Unregister(conn.ID, protocol.RoleAgent, conn.ConnID); removed {
			_ = conn.Sender.Close()
		}
		r.logger.Warn("command delivery failed, entry evicted",
			"device_id", conn.ID,
			"action", cmd.Action,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	r.logger.Debug("command delivered",
		"device_id", conn.ID,
		"action", cmd.Action,
	)
	return nil
}
