// ABOUTME: Long-poll transport for agents that cannot hold a websocket open.
// ABOUTME: Heartbeats maintain presence; blocking polls deliver queued commands.

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
	"github.com/fleetgate/fleetgate/internal/relay"
)

// noOpCommand is the poll-timeout sentinel. Agents treat it as "nothing
// to do, poll again"; it never reaches an agent as a real command.
var noOpCommand = []byte(`{"action":"no_op","payload":null}`)

// longPoll manages pull-based agents: registry presence driven by
// heartbeats, command delivery through a per-agent mailbox, and a
// sweeper that expires agents whose heartbeats stop.
type longPoll struct {
	registry *registry.Registry
	relay    *relay.Relay
	media    *mediacache.Cache
	mailbox  *relay.Mailbox

	ttl         time.Duration
	pollTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]agentPresence

	done   chan struct{}
	stopMu sync.Once
}

type agentPresence struct {
	connID string
	seen   time.Time
}

func newLongPoll(reg *registry.Registry, rly *relay.Relay, media *mediacache.Cache, ttl, pollTimeout time.Duration, logger *slog.Logger) *longPoll {
	if logger == nil {
		logger = slog.Default()
	}
	return &longPoll{
		registry:    reg,
		relay:       rly,
		media:       media,
		mailbox:     relay.NewMailbox(),
		ttl:         ttl,
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "longpoll"),
		lastSeen:    make(map[string]agentPresence),
		done:        make(chan struct{}),
	}
}

// mailboxSender adapts the command mailbox to the registry Sender
// interface, so the router delivers to long-poll agents through the
// same path as websocket agents.
type mailboxSender struct {
	mailbox  *relay.Mailbox
	deviceID string
}

func (s *mailboxSender) Send(payload []byte) error {
	return s.mailbox.Enqueue(s.deviceID, payload)
}

func (s *mailboxSender) Close() error {
	s.mailbox.Evict(s.deviceID)
	return nil
}

func (lp *longPoll) start() {
	go lp.sweep()
}

func (lp *longPoll) stop() {
	lp.stopMu.Do(func() { close(lp.done) })
}

// handleHeartbeat handles POST /heartbeat/{device_id}/{device_name}.
// The first heartbeat registers the agent; subsequent ones refresh its
// presence and pick up name changes.
func (lp *longPoll) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(pathParam(r, "device_id"))
	deviceName := strings.TrimSpace(pathParam(r, "device_name"))

	if deviceID == "" {
		sendJSONError(lp.logger, w, http.StatusBadRequest, "device id is required")
		return
	}
	if deviceName == "" {
		deviceName = deviceID
	}

	connID, fresh := lp.touch(deviceID, deviceName)
	if fresh {
		lp.logger.Info("long-poll agent registered", "device_id", deviceID, "name", deviceName)
		lp.relay.BroadcastDirectory()
	}

	writeJSON(lp.logger, w, http.StatusOK, map[string]any{
		"status":  "success",
		"conn_id": connID,
		"ttl_ms":  lp.ttl.Milliseconds(),
	})
}

// touch refreshes presence for the device, registering it when absent.
// Returns the live connection instance id and whether a new
// registration happened.
func (lp *longPoll) touch(deviceID, deviceName string) (string, bool) {
	now := time.Now()

	if conn, ok := lp.registry.Lookup(deviceID, protocol.RoleAgent); ok {
		if conn.Name != deviceName {
			lp.registry.UpdateName(deviceID, protocol.RoleAgent, deviceName)
		}
		lp.mu.Lock()
		lp.lastSeen[deviceID] = agentPresence{connID: conn.ConnID, seen: now}
		lp.mu.Unlock()
		return conn.ConnID, false
	}

	sender := &mailboxSender{mailbox: lp.mailbox, deviceID: deviceID}
	conn := registry.NewConn(deviceID, protocol.RoleAgent, deviceName, sender)
	if replaced := lp.registry.Register(conn); replaced != nil {
		_ = replaced.Sender.Close()
	}

	lp.mu.Lock()
	lp.lastSeen[deviceID] = agentPresence{connID: conn.ConnID, seen: now}
	lp.mu.Unlock()
	return conn.ConnID, true
}

// handlePoll handles GET /poll_commands/{device_id}. The request blocks
// until a command is queued or the poll window expires; the window is
// kept under typical proxy idle timeouts so the agent sees a clean
// no_op instead of a severed connection.
func (lp *longPoll) handlePoll(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(pathParam(r, "device_id"))
	if deviceID == "" {
		sendJSONError(lp.logger, w, http.StatusBadRequest, "device id is required")
		return
	}

	// An open poll is as good as a heartbeat for liveness.
	lp.refresh(deviceID)

	payload, ok, err := lp.mailbox.Poll(r.Context(), deviceID, lp.pollTimeout)
	switch {
	case err == nil && ok:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(noOpCommand)
	case errors.Is(err, relay.ErrMailboxClosed):
		sendJSONError(lp.logger, w, http.StatusGone, "agent "+deviceID+" was evicted, heartbeat to re-register")
	default:
		// Client went away mid-poll; nothing useful to write.
		lp.logger.Debug("poll aborted", "device_id", deviceID, "error", err)
	}
}

// refresh bumps lastSeen for a device that is already registered.
func (lp *longPoll) refresh(deviceID string) {
	conn, ok := lp.registry.Lookup(deviceID, protocol.RoleAgent)
	if !ok {
		return
	}
	lp.mu.Lock()
	lp.lastSeen[deviceID] = agentPresence{connID: conn.ConnID, seen: time.Now()}
	lp.mu.Unlock()
}

// sweep expires agents whose heartbeats stopped. Runs until stop.
func (lp *longPoll) sweep() {
	interval := lp.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lp.done:
			return
		case <-ticker.C:
			lp.expireStale()
		}
	}
}

// expireStale runs the disconnect sequence for every agent whose
// presence is older than the TTL. The ConnID carried in the presence
// record keeps an expiry racing a re-registration from removing the
// fresh entry.
func (lp *longPoll) expireStale() {
	cutoff := time.Now().Add(-lp.ttl)

	lp.mu.Lock()
	expired := make(map[string]string)
	for id, p := range lp.lastSeen {
		if p.seen.Before(cutoff) {
			expired[id] = p.connID
			delete(lp.lastSeen, id)
		}
	}
	lp.mu.Unlock()

	evicted := 0
	for id, connID := range expired {
		removed, ok := lp.registry.Unregister(id, protocol.RoleAgent, connID)
		if !ok {
			// Lost the race with a re-registration; the fresh entry stays.
			continue
		}
		lp.logger.Info("long-poll agent expired", "device_id", id, "name", removed.Name)
		_ = removed.Sender.Close()
		lp.media.EvictDevice(id)
		lp.relay.EvictAgent(id)
		evicted++
	}
	if evicted > 0 {
		lp.relay.BroadcastDirectory()
	}
}
